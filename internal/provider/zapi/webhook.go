package zapi

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/open-apime/crmhub/internal/pkg/phone"
	"github.com/open-apime/crmhub/internal/provider"
	"github.com/open-apime/crmhub/internal/storage/model"
)

// callback é o formato da Z-API (ReceivedCallback / MessageStatusCallback).
type callback struct {
	Type           string        `json:"type"`
	InstanceID     string        `json:"instanceId"`
	ConnectedPhone string        `json:"connectedPhone"`
	MessageID      string        `json:"messageId"`
	Phone          string        `json:"phone"`
	FromMe         provider.Bool `json:"fromMe"`
	IsGroup        provider.Bool `json:"isGroup"`
	SenderName     string        `json:"senderName"`
	ChatName       string        `json:"chatName"`
	Photo          string        `json:"photo"`
	SenderPhoto    string        `json:"senderPhoto"`
	Momment        provider.Int  `json:"momment"`
	Status         string        `json:"status"`
	IDs            []string      `json:"ids"`
	Text           *struct {
		Message string `json:"message"`
	} `json:"text"`
	Image *struct {
		ImageURL string `json:"imageUrl"`
		MimeType string `json:"mimeType"`
		Caption  string `json:"caption"`
	} `json:"image"`
	Video *struct {
		VideoURL string `json:"videoUrl"`
		MimeType string `json:"mimeType"`
		Caption  string `json:"caption"`
	} `json:"video"`
	Audio *struct {
		AudioURL string `json:"audioUrl"`
		MimeType string `json:"mimeType"`
	} `json:"audio"`
	Document *struct {
		DocumentURL string `json:"documentUrl"`
		MimeType    string `json:"mimeType"`
		FileName    string `json:"fileName"`
		Title       string `json:"title"`
		Caption     string `json:"caption"`
	} `json:"document"`
	Sticker *struct {
		StickerURL string `json:"stickerUrl"`
		MimeType   string `json:"mimeType"`
	} `json:"sticker"`
	Reaction *struct {
		Value string `json:"value"`
	} `json:"reaction"`
	Location *struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"location"`
}

// chatEnvelope é o formato da UAZAPI ({chat, message, owner}).
type chatEnvelope struct {
	EventType  string `json:"EventType"`
	Owner      string `json:"owner"`
	InstanceID string `json:"instance_id"`
	Instance   string `json:"instance"`
	Token      string `json:"token"`
	Chat       *struct {
		WaChatID string        `json:"wa_chatid"`
		WaName   string        `json:"wa_name"`
		Name     string        `json:"name"`
		Image    string        `json:"image"`
		Phone    string        `json:"phone"`
		IsGroup  provider.Bool `json:"wa_isGroup"`
	} `json:"chat"`
	Message *struct {
		ID          string          `json:"id"`
		MessageID   string          `json:"messageid"`
		ChatID      string          `json:"chatid"`
		Text        string          `json:"text"`
		Content     json.RawMessage `json:"content"`
		FromMe      provider.Bool   `json:"fromMe"`
		IsGroup     provider.Bool   `json:"isGroup"`
		MessageType string          `json:"messageType"`
		MediaType   string          `json:"mediaType"`
		FileURL     string          `json:"fileURL"`
		Mimetype    string          `json:"mimetype"`
		SenderName  string          `json:"senderName"`
		Timestamp   provider.Int    `json:"messageTimestamp"`
	} `json:"message"`
	Event *struct {
		Type       string   `json:"Type"`
		MessageIDs []string `json:"MessageIDs"`
		Chat       string   `json:"Chat"`
	} `json:"event"`
}

// Parse aceita tanto o callback da Z-API quanto o envelope chat/message da UAZAPI.
func Parse(raw []byte) provider.WebhookResult {
	if IsChatEnvelope(raw) {
		return parseChat(raw)
	}

	var cb callback
	if err := provider.Decode(raw, &cb); err != nil {
		return provider.Failed("payload z-api inválido: " + err.Error())
	}
	return parseCallback(cb)
}

// IsChatEnvelope detecta o par chat+message, inclusive em atualizações de status.
func IsChatEnvelope(raw []byte) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	_, hasChat := fields["chat"]
	_, hasMessage := fields["message"]
	_, hasEvent := fields["event"]
	_, hasEventType := fields["EventType"]
	return hasChat && (hasMessage || (hasEvent && hasEventType))
}

func parseCallback(cb callback) provider.WebhookResult {
	routing := provider.Routing{
		Channel:    model.ChannelWhatsApp,
		InstanceID: cb.InstanceID,
		Owner:      cb.ConnectedPhone,
	}

	if cb.Type == "MessageStatusCallback" {
		status, ok := provider.StatusFromProvider(cb.Status)
		if !ok || len(cb.IDs) == 0 {
			res := provider.Unknown("status z-api desconhecido: " + cb.Status)
			res.Routing = routing
			return res
		}
		return provider.WebhookResult{
			Success:           true,
			EventType:         provider.EventStatusUpdate,
			ExternalMessageID: cb.IDs[0],
			ExternalContactID: phone.StripJID(cb.Phone),
			Status:            status,
			StatusMessageIDs:  cb.IDs,
			Timestamp:         cb.Momment.Time(),
			Routing:           routing,
		}
	}

	if cb.Type != "" && cb.Type != "ReceivedCallback" {
		res := provider.Unknown("callback z-api ignorado: " + cb.Type)
		res.Routing = routing
		return res
	}
	if bool(cb.IsGroup) {
		res := provider.Unknown("mensagem de grupo ignorada")
		res.Routing = routing
		return res
	}

	res := provider.WebhookResult{
		Success:           true,
		EventType:         provider.EventMessageReceived,
		ExternalMessageID: cb.MessageID,
		ExternalContactID: phone.StripJID(cb.Phone),
		FromMe:            bool(cb.FromMe),
		Timestamp:         cb.Momment.Time(),
		Routing:           routing,
	}
	if res.FromMe {
		res.EventType = provider.EventOutbound
	} else {
		res.ContactName = firstNonEmpty(cb.SenderName, cb.ChatName)
		res.AvatarURL = firstNonEmpty(cb.Photo, cb.SenderPhoto)
	}

	switch {
	case cb.Text != nil:
		res.MessageType = model.MessageTypeText
		res.MessageContent = cb.Text.Message
	case cb.Image != nil:
		res.MessageType = model.MessageTypeImage
		res.MediaURL, res.MimeType, res.MessageContent = cb.Image.ImageURL, cb.Image.MimeType, cb.Image.Caption
	case cb.Video != nil:
		res.MessageType = model.MessageTypeVideo
		res.MediaURL, res.MimeType, res.MessageContent = cb.Video.VideoURL, cb.Video.MimeType, cb.Video.Caption
	case cb.Audio != nil:
		res.MessageType = model.MessageTypeAudio
		res.MediaURL, res.MimeType = cb.Audio.AudioURL, cb.Audio.MimeType
	case cb.Document != nil:
		res.MessageType = model.MessageTypeDocument
		res.MediaURL, res.MimeType = cb.Document.DocumentURL, cb.Document.MimeType
		res.FileName = firstNonEmpty(cb.Document.FileName, cb.Document.Title)
		res.MessageContent = cb.Document.Caption
	case cb.Sticker != nil:
		res.MessageType = model.MessageTypeSticker
		res.MediaURL, res.MimeType = cb.Sticker.StickerURL, cb.Sticker.MimeType
		res.MessageContent = provider.Marker("sticker")
	case cb.Reaction != nil:
		res.MessageType = model.MessageTypeReaction
		res.MessageContent = cb.Reaction.Value
	case cb.Location != nil:
		res.MessageType = model.MessageTypeLocation
		res.MessageContent = firstNonEmpty(cb.Location.Name, cb.Location.Address, provider.Marker("location"))
	default:
		res.MessageType = model.MessageTypeUnknown
		res.MessageContent = provider.Marker("unknown")
	}
	return res
}

func parseChat(raw []byte) provider.WebhookResult {
	var env chatEnvelope
	if err := provider.Decode(raw, &env); err != nil {
		return provider.Failed("payload chat inválido: " + err.Error())
	}

	routing := provider.Routing{
		Channel:    model.ChannelWhatsApp,
		InstanceID: firstNonEmpty(env.InstanceID, env.Instance),
		Owner:      env.Owner,
	}

	if env.Event != nil && env.Message == nil {
		status, ok := provider.StatusFromProvider(env.Event.Type)
		if !ok || len(env.Event.MessageIDs) == 0 {
			res := provider.Unknown("evento chat ignorado")
			res.Routing = routing
			return res
		}
		return provider.WebhookResult{
			Success:           true,
			EventType:         provider.EventStatusUpdate,
			ExternalMessageID: env.Event.MessageIDs[0],
			ExternalContactID: phone.StripJID(env.Event.Chat),
			Status:            status,
			StatusMessageIDs:  env.Event.MessageIDs,
			Routing:           routing,
		}
	}

	if env.Chat == nil || env.Message == nil {
		res := provider.Unknown("envelope chat incompleto")
		res.Routing = routing
		return res
	}

	msg := env.Message
	contact := firstNonEmpty(env.Chat.WaChatID, msg.ChatID, env.Chat.Phone)
	if bool(msg.IsGroup) || bool(env.Chat.IsGroup) || phone.IsGroup(contact) {
		res := provider.Unknown("mensagem de grupo ignorada")
		res.Routing = routing
		return res
	}

	res := provider.WebhookResult{
		Success:           true,
		EventType:         provider.EventMessageReceived,
		ExternalMessageID: firstNonEmpty(msg.ID, msg.MessageID),
		ExternalContactID: phone.StripJID(contact),
		FromMe:            bool(msg.FromMe),
		Timestamp:         msg.Timestamp.Time(),
		Routing:           routing,
	}
	if res.FromMe {
		res.EventType = provider.EventOutbound
	} else {
		res.ContactName = firstNonEmpty(env.Chat.WaName, env.Chat.Name, msg.SenderName)
		res.AvatarURL = env.Chat.Image
	}

	kind := firstNonEmpty(msg.MediaType, msg.MessageType)
	res.MessageType = provider.TypeFromKind(kind)
	text := firstNonEmpty(msg.Text, contentText(msg.Content))

	switch {
	case res.MessageType == model.MessageTypeText:
		res.MessageContent = text
	case res.MessageType.IsMedia():
		res.MediaURL = msg.FileURL
		res.MimeType = msg.Mimetype
		res.MessageContent = text
		if res.MessageType == model.MessageTypeSticker {
			res.MessageContent = provider.Marker("sticker")
		}
	case res.MessageType == model.MessageTypeReaction:
		res.MessageContent = text
	default:
		res.MessageContent = firstNonEmpty(text, provider.Marker(strings.TrimSuffix(strings.ToLower(kind), "message")))
	}
	return res
}

// contentText extrai texto de "content", que pode ser string ou objeto.
func contentText(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' && raw[0] != '{' {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Text    string `json:"text"`
		Caption string `json:"caption"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return firstNonEmpty(obj.Text, obj.Caption)
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
