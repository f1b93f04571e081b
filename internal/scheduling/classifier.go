// Package scheduling detecta pedidos de agendamento em mensagens recebidas,
// reserva o horário na agenda externa e confirma ao contato.
package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Intent é a resposta do classificador para uma mensagem.
type Intent struct {
	Appointment bool
	Start       time.Time
	Summary     string
}

type IntentClassifier interface {
	Classify(ctx context.Context, text string, now time.Time) (Intent, error)
}

const systemPrompt = `Você classifica mensagens de clientes de um CRM.
Responda apenas com JSON no formato {"appointment": bool, "datetime": string, "summary": string}.
"appointment" é true somente quando o cliente pede para marcar um horário específico.
"datetime" é a data e hora pedidas em RFC3339 com fuso, ou "" quando não houver.
"summary" descreve o assunto em até dez palavras.`

type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
}

type OpenAIClassifier struct {
	client *openai.Client
	model  string
	log    *zap.Logger
}

func NewOpenAIClassifier(cfg OpenAIConfig, log *zap.Logger) *OpenAIClassifier {
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	return &OpenAIClassifier{client: openai.NewClientWithConfig(clientCfg), model: cfg.Model, log: log}
}

type classification struct {
	Appointment bool   `json:"appointment"`
	DateTime    string `json:"datetime"`
	Summary     string `json:"summary"`
}

func (c *OpenAIClassifier) Classify(ctx context.Context, text string, now time.Time) (Intent, error) {
	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleSystem, Content: "Agora: " + now.Format(time.RFC3339)},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return Intent{}, fmt.Errorf("classificador: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Intent{}, errors.New("classificador: resposta vazia")
	}

	c.log.Debug("classificador: resposta recebida",
		zap.Int("tokens", resp.Usage.TotalTokens),
		zap.Duration("took", time.Since(start)),
	)
	return parseClassification(resp.Choices[0].Message.Content)
}

func parseClassification(content string) (Intent, error) {
	var out classification
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &out); err != nil {
		return Intent{}, fmt.Errorf("classificador: json inválido: %w", err)
	}

	intent := Intent{Appointment: out.Appointment, Summary: out.Summary}
	if out.DateTime != "" {
		start, err := time.Parse(time.RFC3339, out.DateTime)
		if err != nil {
			return Intent{}, fmt.Errorf("classificador: datetime inválido %q: %w", out.DateTime, err)
		}
		intent.Start = start
	}
	return intent, nil
}
