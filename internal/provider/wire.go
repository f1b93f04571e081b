package provider

import (
	"bytes"
	"crypto/subtle"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/open-apime/crmhub/internal/storage/model"
)

// Bool aceita true/false, "true"/"false" e 0/1; provedores variam entre versões.
type Bool bool

func (b *Bool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	switch strings.ToLower(s) {
	case "true", "1":
		*b = true
	default:
		*b = false
	}
	return nil
}

// Int aceita número ou string numérica.
type Int int64

func (i *Int) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	if s == "" || s == "null" {
		*i = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		*i = Int(n)
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*i = 0
		return nil
	}
	*i = Int(f)
	return nil
}

// Time converte epoch em segundos ou milissegundos; zero vira agora.
func (i Int) Time() time.Time {
	n := int64(i)
	switch {
	case n <= 0:
		return time.Now().UTC()
	case n > 1e12:
		return time.UnixMilli(n).UTC()
	default:
		return time.Unix(n, 0).UTC()
	}
}

func Decode(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}

// Marker é o conteúdo usado para subtipos sem texto (ex.: "[sticker]").
func Marker(kind string) string {
	return "[" + strings.ToLower(kind) + "]"
}

// TypeFromKind normaliza nomes de tipos dos provedores ("imageMessage",
// "ImageMessage", "image", "ptt") para o enum interno.
func TypeFromKind(kind string) model.MessageType {
	k := strings.ToLower(strings.TrimSpace(kind))
	k = strings.TrimSuffix(k, "message")
	switch k {
	case "", "conversation", "text", "extendedtext", "chat":
		return model.MessageTypeText
	case "image":
		return model.MessageTypeImage
	case "video", "ptv":
		return model.MessageTypeVideo
	case "audio", "ptt", "voice":
		return model.MessageTypeAudio
	case "document", "file", "documentwithcaption":
		return model.MessageTypeDocument
	case "sticker":
		return model.MessageTypeSticker
	case "location", "livelocation":
		return model.MessageTypeLocation
	case "reaction":
		return model.MessageTypeReaction
	case "template", "templatebutton", "interactive", "button", "buttons", "list":
		return model.MessageTypeTemplate
	default:
		return model.MessageTypeUnknown
	}
}

// StatusFromProvider mapeia os status de entrega conhecidos.
func StatusFromProvider(s string) (model.MessageStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SENT", "SERVER_ACK", "PENDING":
		return model.MessageStatusSent, true
	case "DELIVERED", "DELIVERY_ACK", "RECEIVED":
		return model.MessageStatusDelivered, true
	case "READ", "PLAYED", "READ_SELF", "VIEWED":
		return model.MessageStatusRead, true
	case "FAILED", "ERROR":
		return model.MessageStatusFailed, true
	}
	return "", false
}

func IsHTTP(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
