package intake

import (
	"strconv"
	"time"
)

const MessageTypeImage = "image"

// WebhookPayload is the subset of the WhatsApp Cloud API notification the
// intake reads.
type WebhookPayload struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

type Entry struct {
	ID      string   `json:"id"`
	Changes []Change `json:"changes"`
}

type Change struct {
	Field string      `json:"field"`
	Value ChangeValue `json:"value"`
}

type ChangeValue struct {
	MessagingProduct string `json:"messaging_product"`
	Metadata         struct {
		PhoneNumberID string `json:"phone_number_id"`
	} `json:"metadata"`
	Messages []Message `json:"messages"`
}

type Message struct {
	From      string `json:"from"`
	ID        string `json:"id"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
	Image     *struct {
		ID       string `json:"id"`
		MimeType string `json:"mime_type"`
		Caption  string `json:"caption"`
	} `json:"image,omitempty"`
}

// InboundMessage is one chat message flattened out of a webhook delivery.
type InboundMessage struct {
	ChannelID  string
	SenderID   string
	MessageID  string
	Type       string
	MediaID    string
	MimeType   string
	ReceivedAt time.Time
}

// Messages flattens every message of every change. A missing or unparseable
// timestamp falls back to now.
func (p WebhookPayload) Messages(now time.Time) []InboundMessage {
	var out []InboundMessage
	for _, entry := range p.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				msg := InboundMessage{
					ChannelID:  change.Value.Metadata.PhoneNumberID,
					SenderID:   m.From,
					MessageID:  m.ID,
					Type:       m.Type,
					ReceivedAt: now,
				}
				if secs, err := strconv.ParseInt(m.Timestamp, 10, 64); err == nil {
					msg.ReceivedAt = time.Unix(secs, 0).UTC()
				}
				if m.Image != nil {
					msg.MediaID = m.Image.ID
					msg.MimeType = m.Image.MimeType
				}
				out = append(out, msg)
			}
		}
	}
	return out
}
