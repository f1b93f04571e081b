package evolution

import (
	"encoding/base64"
	"strings"

	"github.com/open-apime/crmhub/internal/pkg/phone"
	"github.com/open-apime/crmhub/internal/provider"
	"github.com/open-apime/crmhub/internal/storage/model"
)

type event struct {
	Event    string    `json:"event"`
	Instance string    `json:"instance"`
	Sender   string    `json:"sender"`
	Data     eventData `json:"data"`
}

type messageKey struct {
	RemoteJid string        `json:"remoteJid"`
	FromMe    provider.Bool `json:"fromMe"`
	ID        string        `json:"id"`
}

type mediaMessage struct {
	URL      string `json:"url"`
	Mimetype string `json:"mimetype"`
	Caption  string `json:"caption"`
	FileName string `json:"fileName"`
}

type eventData struct {
	Key              messageKey   `json:"key"`
	PushName         string       `json:"pushName"`
	MessageType      string       `json:"messageType"`
	MessageTimestamp provider.Int `json:"messageTimestamp"`
	Message          struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
		ImageMessage    *mediaMessage `json:"imageMessage"`
		VideoMessage    *mediaMessage `json:"videoMessage"`
		AudioMessage    *mediaMessage `json:"audioMessage"`
		DocumentMessage *mediaMessage `json:"documentMessage"`
		StickerMessage  *mediaMessage `json:"stickerMessage"`
		ReactionMessage struct {
			Text string `json:"text"`
		} `json:"reactionMessage"`
		Base64 string `json:"base64"`
	} `json:"message"`

	// messages.update
	KeyID     string        `json:"keyId"`
	RemoteJid string        `json:"remoteJid"`
	MessageID string        `json:"messageId"`
	Status    string        `json:"status"`
	FromMe    provider.Bool `json:"fromMe"`
}

// Parse lê os eventos messages.upsert e messages.update da Evolution API.
func Parse(raw []byte) provider.WebhookResult {
	var ev event
	if err := provider.Decode(raw, &ev); err != nil {
		return provider.Failed("payload evolution inválido: " + err.Error())
	}

	routing := provider.Routing{
		Channel:    model.ChannelWhatsApp,
		InstanceID: ev.Instance,
		Owner:      phone.StripJID(ev.Sender),
	}

	name := strings.ToLower(strings.ReplaceAll(ev.Event, "_", "."))
	switch name {
	case "messages.upsert":
		res := parseUpsert(ev.Data)
		res.Routing = routing
		return res
	case "messages.update":
		res := parseUpdate(ev.Data)
		res.Routing = routing
		return res
	default:
		res := provider.Unknown("evento evolution ignorado: " + ev.Event)
		res.Routing = routing
		return res
	}
}

func parseUpsert(d eventData) provider.WebhookResult {
	if phone.IsGroup(d.Key.RemoteJid) {
		return provider.Unknown("mensagem de grupo ignorada")
	}

	res := provider.WebhookResult{
		Success:           true,
		EventType:         provider.EventMessageReceived,
		ExternalMessageID: d.Key.ID,
		ExternalContactID: phone.StripJID(d.Key.RemoteJid),
		FromMe:            bool(d.Key.FromMe),
		MessageType:       provider.TypeFromKind(d.MessageType),
		Timestamp:         d.MessageTimestamp.Time(),
	}
	if res.FromMe {
		res.EventType = provider.EventOutbound
	} else {
		res.ContactName = d.PushName
	}

	m := d.Message
	var media *mediaMessage
	switch res.MessageType {
	case model.MessageTypeText:
		res.MessageContent = m.Conversation
		if res.MessageContent == "" {
			res.MessageContent = m.ExtendedTextMessage.Text
		}
	case model.MessageTypeImage:
		media = m.ImageMessage
	case model.MessageTypeVideo:
		media = m.VideoMessage
	case model.MessageTypeAudio:
		media = m.AudioMessage
	case model.MessageTypeDocument:
		media = m.DocumentMessage
	case model.MessageTypeSticker:
		media = m.StickerMessage
		res.MessageContent = provider.Marker("sticker")
	case model.MessageTypeReaction:
		res.MessageContent = m.ReactionMessage.Text
	default:
		res.MessageContent = provider.Marker(strings.TrimSuffix(d.MessageType, "Message"))
	}

	if res.MessageType.IsMedia() {
		// a url do WhatsApp é criptografada; a mídia é obtida pelo id da mensagem
		res.MediaURL = d.Key.ID
		if m.Base64 != "" {
			if data, err := base64.StdEncoding.DecodeString(m.Base64); err == nil {
				res.MediaData = data
			}
		}
	}
	if media != nil {
		res.MimeType = media.Mimetype
		res.FileName = media.FileName
		if media.Caption != "" {
			res.MessageContent = media.Caption
		}
	}
	return res
}

func parseUpdate(d eventData) provider.WebhookResult {
	id := firstNonEmpty(d.KeyID, d.MessageID, d.Key.ID)
	status, ok := provider.StatusFromProvider(d.Status)
	if id == "" || !ok {
		return provider.Unknown("atualização evolution sem status reconhecido")
	}
	return provider.WebhookResult{
		Success:           true,
		EventType:         provider.EventStatusUpdate,
		ExternalMessageID: id,
		ExternalContactID: phone.StripJID(firstNonEmpty(d.RemoteJid, d.Key.RemoteJid)),
		Status:            status,
		StatusMessageIDs:  []string{id},
		FromMe:            bool(d.FromMe),
		Timestamp:         d.MessageTimestamp.Time(),
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
