package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type Appointment struct {
	TenantID       string    `json:"tenantId"`
	ConversationID string    `json:"conversationId"`
	Contact        string    `json:"contact"`
	ContactName    string    `json:"contactName,omitempty"`
	Start          time.Time `json:"start"`
	Summary        string    `json:"summary,omitempty"`
}

type Booking struct {
	ID     string    `json:"id"`
	Start  time.Time `json:"start"`
	Status string    `json:"status"`
}

type Calendar interface {
	Book(ctx context.Context, appt Appointment) (Booking, error)
}

// HTTPCalendar reserva horários em uma API REST de agenda (POST /appointments).
type HTTPCalendar struct {
	client *resty.Client
}

func NewHTTPCalendar(baseURL, apiKey string, timeout time.Duration) *HTTPCalendar {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		client.SetAuthToken(apiKey)
	}
	return &HTTPCalendar{client: client}
}

func (c *HTTPCalendar) Book(ctx context.Context, appt Appointment) (Booking, error) {
	var out Booking
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(appt).
		SetResult(&out).
		Post("/appointments")
	if err != nil {
		return Booking{}, fmt.Errorf("agenda: %w", err)
	}
	if resp.IsError() {
		return Booking{}, fmt.Errorf("agenda: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.Start.IsZero() {
		out.Start = appt.Start
	}
	return out, nil
}
