package esp

import (
	"context"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
)

// SendGrid sends email through the SendGrid v3 mail/send endpoint.
type SendGrid struct {
	apiKey string
	host   string
}

// NewSendGrid creates a SendGrid adapter. An empty host uses
// https://api.sendgrid.com.
func NewSendGrid(apiKey, host string) *SendGrid {
	return &SendGrid{apiKey: apiKey, host: host}
}

func (s *SendGrid) Name() string { return "sendgrid" }

func (s *SendGrid) Send(ctx context.Context, msg Message) (string, string, error) {
	if s.apiKey == "" {
		return "", "", configError("sendgrid", "API key not configured")
	}

	from := mail.NewEmail(msg.FromName, msg.FromEmail)
	to := mail.NewEmail("", msg.To)
	message := mail.NewSingleEmail(from, msg.Subject, to, msg.Text, msg.HTML)
	if msg.ReplyTo != "" {
		message.SetReplyTo(mail.NewEmail("", msg.ReplyTo))
	}
	if msg.EventID != "" {
		message.SetCustomArg("event_id", msg.EventID)
	}

	request := sendgrid.GetRequest(s.apiKey, "/v3/mail/send", s.host)
	request.Method = "POST"
	request.Body = mail.GetRequestBody(message)

	response, err := sendgrid.MakeRequestWithContext(ctx, request)
	if err != nil {
		return "", "", err
	}
	if e := StatusError("sendgrid", response.StatusCode, response.Body); e != nil {
		return "", response.Body, e
	}

	var id string
	if ids := response.Headers["X-Message-Id"]; len(ids) > 0 {
		id = ids[0]
	}
	return id, response.Body, nil
}
