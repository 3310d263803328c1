package esp

import (
	"context"
	"fmt"

	"github.com/mailgun/mailgun-go/v4"
)

// Mailgun sends email through the Mailgun messages API.
type Mailgun struct {
	client mailgun.Mailgun
	apiKey string
	domain string
}

// NewMailgun creates a Mailgun adapter for the given sending domain. A
// non-empty apiBase overrides the default US endpoint.
func NewMailgun(domain, apiKey, apiBase string) *Mailgun {
	client := mailgun.NewMailgun(domain, apiKey)
	if apiBase != "" {
		client.SetAPIBase(apiBase)
	}
	return &Mailgun{client: client, apiKey: apiKey, domain: domain}
}

func (m *Mailgun) Name() string { return "mailgun" }

func (m *Mailgun) Send(ctx context.Context, msg Message) (string, string, error) {
	if m.apiKey == "" || m.domain == "" {
		return "", "", configError("mailgun", "API key and domain are required")
	}

	message := m.client.NewMessage(formatFrom(msg.FromName, msg.FromEmail), msg.Subject, msg.Text, msg.To)
	if msg.HTML != "" {
		message.SetHtml(msg.HTML)
	}
	if msg.ReplyTo != "" {
		message.AddHeader("Reply-To", msg.ReplyTo)
	}
	if msg.EventID != "" {
		message.AddHeader("X-Mailflow-Event-ID", msg.EventID)
	}

	resp, id, err := m.client.Send(ctx, message)
	if err != nil {
		if status := mailgun.GetStatusFromErr(err); status > 0 {
			return "", "", StatusError("mailgun", status, err.Error())
		}
		return "", "", err
	}
	return id, fmt.Sprintf(`{"id":%q,"message":%q}`, id, resp), nil
}
