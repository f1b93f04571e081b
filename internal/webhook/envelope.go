package webhook

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/open-apime/crmhub/internal/provider"
	"github.com/open-apime/crmhub/internal/provider/evolution"
	"github.com/open-apime/crmhub/internal/provider/meta"
	"github.com/open-apime/crmhub/internal/provider/zapi"
	"github.com/open-apime/crmhub/internal/storage/model"
)

var ErrInvalidJSON = errors.New("invalid json")

// Shape identifica o formato do payload recebido no endpoint compartilhado.
type Shape string

const (
	ShapeMetaWhatsApp Shape = "meta_whatsapp"
	ShapeInstagram    Shape = "instagram"
	ShapeEvolution    Shape = "evolution"
	ShapeChat         Shape = "chat"
	ShapeZAPICallback Shape = "zapi_callback"
	ShapeUnknown      Shape = "unknown"
)

// Parse normaliza o payload com o parser do formato.
func (s Shape) Parse(raw []byte) provider.WebhookResult {
	switch s {
	case ShapeMetaWhatsApp, ShapeInstagram:
		return meta.Parse(raw)
	case ShapeEvolution:
		return evolution.Parse(raw)
	case ShapeChat, ShapeZAPICallback:
		return zapi.Parse(raw)
	default:
		return provider.Unknown("formato de payload não reconhecido")
	}
}

// ShapeFor devolve o formato esperado de um provedor. Usado na rota por
// tenant, onde o parser vem da integração e não do corpo.
func ShapeFor(integration model.Integration) Shape {
	switch integration.Provider {
	case model.ProviderMetaOfficial:
		if integration.Channel == model.ChannelInstagram {
			return ShapeInstagram
		}
		return ShapeMetaWhatsApp
	case model.ProviderEvolutionAPI:
		return ShapeEvolution
	case model.ProviderUAZAPI:
		return ShapeChat
	case model.ProviderZAPI:
		return ShapeZAPICallback
	}
	return ShapeUnknown
}

// Unwrap remove os envelopes de ferramentas de relay: [{...}] e {"body": {...}}.
// O corpo pode vir como objeto ou como string JSON. Só JSON inválido é erro;
// qualquer outro valor segue adiante e cai em ShapeUnknown.
func Unwrap(raw []byte) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if !json.Valid(raw) {
		return nil, ErrInvalidJSON
	}

	for range 3 {
		if !isObject(raw) && (len(raw) == 0 || raw[0] != '[') {
			return raw, nil
		}
		if raw[0] == '[' {
			var items []json.RawMessage
			if err := json.Unmarshal(raw, &items); err != nil || len(items) == 0 {
				return raw, nil
			}
			raw = bytes.TrimSpace(items[0])
			continue
		}
		body, ok := relayBody(raw)
		if !ok {
			return raw, nil
		}
		raw = body
	}
	return raw, nil
}

func isObject(raw []byte) bool {
	return len(raw) > 0 && raw[0] == '{'
}

// relayBody extrai "body" apenas quando o objeto não parece um payload de
// provedor, já que alguns provedores usam "body" em campos próprios.
func relayBody(raw []byte) ([]byte, bool) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, false
	}
	body, ok := fields["body"]
	if !ok {
		return nil, false
	}
	for _, k := range []string{"object", "event", "chat", "message", "type", "entry"} {
		if _, exists := fields[k]; exists {
			return nil, false
		}
	}

	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '"' {
		var s string
		if err := json.Unmarshal(body, &s); err != nil || !json.Valid([]byte(s)) {
			return nil, false
		}
		body = bytes.TrimSpace([]byte(s))
	}
	if len(body) == 0 || (body[0] != '{' && body[0] != '[') {
		return nil, false
	}
	return body, true
}

type shapeHint struct {
	Object     string          `json:"object"`
	Entry      json.RawMessage `json:"entry"`
	Event      json.RawMessage `json:"event"`
	Data       json.RawMessage `json:"data"`
	Type       string          `json:"type"`
	InstanceID string          `json:"instanceId"`
}

// DetectShape infere o formato pelo corpo. Só é usado no endpoint legado.
func DetectShape(raw []byte) Shape {
	if zapi.IsChatEnvelope(raw) {
		return ShapeChat
	}

	var p shapeHint
	if err := json.Unmarshal(raw, &p); err != nil {
		return ShapeUnknown
	}

	switch {
	case p.Object == "instagram" || p.Object == "page":
		return ShapeInstagram
	case p.Object == "whatsapp_business_account" || (p.Object == "" && len(p.Entry) > 0 && p.Entry[0] == '['):
		return ShapeMetaWhatsApp
	case isJSONString(p.Event) && len(p.Data) > 0:
		return ShapeEvolution
	case p.Type != "" && (p.InstanceID != "" || p.Type == "ReceivedCallback" || p.Type == "MessageStatusCallback"):
		return ShapeZAPICallback
	}
	return ShapeUnknown
}

func isJSONString(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 1 && raw[0] == '"'
}
