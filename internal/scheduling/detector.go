package scheduling

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/open-apime/crmhub/internal/pkg/queue"
	"github.com/open-apime/crmhub/internal/provider"
	"github.com/open-apime/crmhub/internal/storage/model"
)

// Sender envia a confirmação pelo mesmo provedor da conversa.
type Sender interface {
	Send(ctx context.Context, tenantID string, channel model.Channel, payload provider.SendPayload) (provider.SendResult, error)
}

// Detector processa os jobs scheduling.detect enfileirados pelo webhook.
type Detector struct {
	classifier IntentClassifier
	calendar   Calendar
	sender     Sender
	timeout    time.Duration
	now        func() time.Time
	log        *zap.Logger
}

func NewDetector(classifier IntentClassifier, calendar Calendar, sender Sender, timeout time.Duration, log *zap.Logger) *Detector {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Detector{
		classifier: classifier,
		calendar:   calendar,
		sender:     sender,
		timeout:    timeout,
		now:        time.Now,
		log:        log,
	}
}

func (d *Detector) Handle(ctx context.Context, job *queue.Job) error {
	text := job.String("text")
	if text == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	intent, err := d.classifier.Classify(ctx, text, d.now())
	if err != nil {
		return fmt.Errorf("classificar mensagem: %w", err)
	}
	if !intent.Appointment || intent.Start.IsZero() {
		d.log.Debug("agendamento: nenhuma intenção detectada", zap.String("conversation_id", job.String("conversation_id")))
		return nil
	}

	booking, err := d.calendar.Book(ctx, Appointment{
		TenantID:       job.TenantID,
		ConversationID: job.String("conversation_id"),
		Contact:        job.String("contact"),
		ContactName:    job.String("contact_name"),
		Start:          intent.Start,
		Summary:        intent.Summary,
	})
	if err != nil {
		return fmt.Errorf("reservar horário: %w", err)
	}

	d.log.Info("agendamento: horário reservado",
		zap.String("tenant_id", job.TenantID),
		zap.String("booking_id", booking.ID),
		zap.Time("start", booking.Start),
	)

	res, err := d.sender.Send(ctx, job.TenantID, model.Channel(job.String("channel")), provider.SendPayload{
		ExternalContactID: job.String("contact"),
		Message:           Confirmation(booking.Start),
		MessageType:       model.MessageTypeText,
	})
	if err != nil {
		return fmt.Errorf("enviar confirmação: %w", err)
	}
	if !res.Success {
		return fmt.Errorf("enviar confirmação: %s", res.Error)
	}
	return nil
}

// Confirmation usa o fuso devolvido pela agenda.
func Confirmation(start time.Time) string {
	return "Seu horário foi agendado para " + start.Format("02/01/2006 às 15:04") + "."
}
