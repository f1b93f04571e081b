package meta

import (
	"strings"

	"github.com/open-apime/crmhub/internal/provider"
	"github.com/open-apime/crmhub/internal/storage/model"
)

type envelope struct {
	Object string  `json:"object"`
	Entry  []entry `json:"entry"`
}

type entry struct {
	ID        string      `json:"id"`
	Changes   []change    `json:"changes"`
	Messaging []messaging `json:"messaging"`
}

type change struct {
	Field string `json:"field"`
	Value value  `json:"value"`
}

type value struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		DisplayPhoneNumber string `json:"display_phone_number"`
		PhoneNumberID      string `json:"phone_number_id"`
	} `json:"metadata"`
	Contacts []struct {
		WaID    string `json:"wa_id"`
		Profile struct {
			Name string `json:"name"`
		} `json:"profile"`
	} `json:"contacts"`
	Messages []waMessage `json:"messages"`
	Statuses []waStatus  `json:"statuses"`
}

type waMedia struct {
	ID       string `json:"id"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type waMessage struct {
	From      string       `json:"from"`
	ID        string       `json:"id"`
	Timestamp provider.Int `json:"timestamp"`
	Type      string       `json:"type"`
	Text      struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *waMedia `json:"image"`
	Video    *waMedia `json:"video"`
	Audio    *waMedia `json:"audio"`
	Document *waMedia `json:"document"`
	Sticker  *waMedia `json:"sticker"`
	Reaction struct {
		Emoji string `json:"emoji"`
	} `json:"reaction"`
	Button struct {
		Text string `json:"text"`
	} `json:"button"`
	Interactive struct {
		ButtonReply struct {
			Title string `json:"title"`
		} `json:"button_reply"`
		ListReply struct {
			Title string `json:"title"`
		} `json:"list_reply"`
	} `json:"interactive"`
}

type waStatus struct {
	ID          string       `json:"id"`
	Status      string       `json:"status"`
	Timestamp   provider.Int `json:"timestamp"`
	RecipientID string       `json:"recipient_id"`
	Errors      []struct {
		Title string `json:"title"`
	} `json:"errors"`
}

type messaging struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Recipient struct {
		ID string `json:"id"`
	} `json:"recipient"`
	Timestamp provider.Int `json:"timestamp"`
	Message   *struct {
		Mid         string        `json:"mid"`
		Text        string        `json:"text"`
		IsEcho      provider.Bool `json:"is_echo"`
		Attachments []struct {
			Type    string `json:"type"`
			Payload struct {
				URL string `json:"url"`
			} `json:"payload"`
		} `json:"attachments"`
	} `json:"message"`
	Read *struct {
		Mid string `json:"mid"`
	} `json:"read"`
}

// Parse lê os envelopes entry[].changes[] (WhatsApp) e entry[].messaging[]
// (Instagram). Apenas o primeiro evento é considerado.
func Parse(raw []byte) provider.WebhookResult {
	var env envelope
	if err := provider.Decode(raw, &env); err != nil {
		return provider.Failed("payload meta inválido: " + err.Error())
	}

	if env.Object == "instagram" || env.Object == "page" {
		return parseInstagram(env)
	}
	return parseWhatsApp(env)
}

func parseWhatsApp(env envelope) provider.WebhookResult {
	for _, e := range env.Entry {
		for _, ch := range e.Changes {
			v := ch.Value
			routing := provider.Routing{
				Channel:    model.ChannelWhatsApp,
				InstanceID: v.Metadata.PhoneNumberID,
				Owner:      v.Metadata.DisplayPhoneNumber,
			}

			if len(v.Messages) > 0 {
				res := whatsAppMessage(v.Messages[0])
				res.Routing = routing
				for _, c := range v.Contacts {
					if c.WaID == res.ExternalContactID || len(v.Contacts) == 1 {
						res.ContactName = c.Profile.Name
						break
					}
				}
				return res
			}

			if len(v.Statuses) > 0 {
				st := v.Statuses[0]
				status, ok := provider.StatusFromProvider(st.Status)
				if !ok {
					res := provider.Unknown("status meta desconhecido: " + st.Status)
					res.Routing = routing
					return res
				}
				res := provider.WebhookResult{
					Success:           true,
					EventType:         provider.EventStatusUpdate,
					ExternalMessageID: st.ID,
					ExternalContactID: st.RecipientID,
					Status:            status,
					StatusMessageIDs:  []string{st.ID},
					Timestamp:         st.Timestamp.Time(),
					Routing:           routing,
				}
				if len(st.Errors) > 0 {
					res.Error = st.Errors[0].Title
				}
				return res
			}
		}
	}
	return provider.Unknown("nenhuma mensagem ou status no payload meta")
}

func whatsAppMessage(m waMessage) provider.WebhookResult {
	res := provider.WebhookResult{
		Success:           true,
		EventType:         provider.EventMessageReceived,
		ExternalMessageID: m.ID,
		ExternalContactID: m.From,
		MessageType:       provider.TypeFromKind(m.Type),
		Timestamp:         m.Timestamp.Time(),
	}

	var media *waMedia
	switch res.MessageType {
	case model.MessageTypeText:
		res.MessageContent = m.Text.Body
	case model.MessageTypeImage:
		media = m.Image
	case model.MessageTypeVideo:
		media = m.Video
	case model.MessageTypeAudio:
		media = m.Audio
	case model.MessageTypeDocument:
		media = m.Document
	case model.MessageTypeSticker:
		media = m.Sticker
		res.MessageContent = provider.Marker("sticker")
	case model.MessageTypeReaction:
		res.MessageContent = m.Reaction.Emoji
	case model.MessageTypeTemplate:
		res.MessageContent = firstNonEmpty(m.Button.Text, m.Interactive.ButtonReply.Title, m.Interactive.ListReply.Title, provider.Marker(m.Type))
	default:
		res.MessageContent = provider.Marker(m.Type)
	}

	if media != nil {
		res.MediaURL = media.ID
		res.MimeType = media.MimeType
		res.FileName = media.Filename
		if media.Caption != "" {
			res.MessageContent = media.Caption
		}
	}
	return res
}

func parseInstagram(env envelope) provider.WebhookResult {
	for _, e := range env.Entry {
		for _, m := range e.Messaging {
			routing := provider.Routing{Channel: model.ChannelInstagram, InstanceID: e.ID}

			if m.Read != nil && m.Message == nil {
				return provider.WebhookResult{
					Success:           true,
					EventType:         provider.EventStatusUpdate,
					ExternalMessageID: m.Read.Mid,
					ExternalContactID: m.Sender.ID,
					Status:            model.MessageStatusRead,
					StatusMessageIDs:  []string{m.Read.Mid},
					Timestamp:         m.Timestamp.Time(),
					Routing:           routing,
				}
			}
			if m.Message == nil {
				continue
			}

			res := provider.WebhookResult{
				Success:           true,
				EventType:         provider.EventMessageReceived,
				ExternalMessageID: m.Message.Mid,
				ExternalContactID: m.Sender.ID,
				MessageType:       model.MessageTypeText,
				MessageContent:    m.Message.Text,
				Timestamp:         m.Timestamp.Time(),
				Routing:           routing,
			}
			if bool(m.Message.IsEcho) {
				// no eco o contato é o destinatário
				res.EventType = provider.EventOutbound
				res.FromMe = true
				res.ExternalContactID = m.Recipient.ID
			}
			if len(m.Message.Attachments) > 0 {
				att := m.Message.Attachments[0]
				res.MessageType = provider.TypeFromKind(att.Type)
				if res.MessageType.IsMedia() {
					res.MediaURL = att.Payload.URL
				} else if res.MessageContent == "" {
					res.MessageContent = provider.Marker(att.Type)
				}
			}
			return res
		}
	}
	return provider.Unknown("nenhuma mensagem no payload instagram")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
