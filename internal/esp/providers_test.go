package esp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testMessage = Message{
	To:        "a@b.com",
	FromName:  "Shop",
	FromEmail: "no-reply@shop.com",
	ReplyTo:   "help@shop.com",
	Subject:   "Payment received",
	HTML:      "<p>Hi Ada</p>",
	Text:      "Hi Ada",
	EventID:   "evt-1",
}

func TestSparkPost_Send(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/transmissions", r.URL.Path)
		assert.Equal(t, "sp-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"results":{"total_rejected_recipients":0,"total_accepted_recipients":1,"id":"11668787484950529"}}`))
	}))
	defer srv.Close()

	sp := NewSparkPost("sp-key", srv.URL+"/api/v1/", srv.Client())
	id, raw, err := sp.Send(context.Background(), testMessage)
	require.NoError(t, err)
	assert.Equal(t, "11668787484950529", id)
	assert.Contains(t, raw, "total_accepted_recipients")

	content := got["content"].(map[string]interface{})
	assert.Equal(t, "Payment received", content["subject"])
	assert.Equal(t, "help@shop.com", content["reply_to"])
	assert.Equal(t, "evt-1", got["metadata"].(map[string]interface{})["event_id"])
}

func TestSparkPost_Errors(t *testing.T) {
	status := http.StatusServiceUnavailable
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		w.Write([]byte(`{"errors":[{"message":"nope"}]}`))
	}))
	defer srv.Close()

	sp := NewSparkPost("sp-key", srv.URL, srv.Client())

	_, _, err := sp.Send(context.Background(), testMessage)
	assert.Equal(t, KindTransient, Classify("sparkpost", err).Kind)

	status = http.StatusUnauthorized
	_, _, err = sp.Send(context.Background(), testMessage)
	e := Classify("sparkpost", err)
	assert.Equal(t, KindPermanent, e.Kind)
	assert.True(t, e.Config)

	status = http.StatusBadRequest
	_, raw, err := sp.Send(context.Background(), testMessage)
	assert.Equal(t, KindPermanent, Classify("sparkpost", err).Kind)
	assert.Contains(t, raw, "nope")
}

func TestSparkPost_MissingKey(t *testing.T) {
	_, _, err := NewSparkPost("", "", nil).Send(context.Background(), testMessage)
	e := Classify("sparkpost", err)
	assert.True(t, e.Config)
	assert.Equal(t, KindPermanent, e.Kind)
}

func TestSendGrid_Send(t *testing.T) {
	var body map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v3/mail/send", r.URL.Path)
		assert.Equal(t, "Bearer SG.key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("X-Message-Id", "sg-123")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	id, _, err := NewSendGrid("SG.key", srv.URL).Send(context.Background(), testMessage)
	require.NoError(t, err)
	assert.Equal(t, "sg-123", id)
	assert.Equal(t, "Payment received", body["subject"])
	assert.Equal(t, "evt-1", body["custom_args"].(map[string]interface{})["event_id"])
}

func TestSendGrid_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"errors":[{"message":"too many requests"}]}`))
	}))
	defer srv.Close()

	_, _, err := NewSendGrid("SG.key", srv.URL).Send(context.Background(), testMessage)
	e := Classify("sendgrid", err)
	assert.Equal(t, KindTransient, e.Kind)
	assert.Equal(t, "rate_limited", e.Code)
}

func TestMailgun_Send(t *testing.T) {
	var form string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/mg.shop.com/messages"), r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		form = string(b)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"<20240101.1@mg.shop.com>","message":"Queued. Thank you."}`))
	}))
	defer srv.Close()

	mg := NewMailgun("mg.shop.com", "key-1", srv.URL+"/v3")
	id, raw, err := mg.Send(context.Background(), testMessage)
	require.NoError(t, err)
	assert.Equal(t, "<20240101.1@mg.shop.com>", id)
	assert.Contains(t, raw, "Queued")
	assert.Contains(t, form, "a@b.com")
}

func TestMailgun_RejectedRecipient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"message":"to parameter is not a valid address"}`))
	}))
	defer srv.Close()

	_, _, err := NewMailgun("mg.shop.com", "key-1", srv.URL+"/v3").Send(context.Background(), testMessage)
	assert.Equal(t, KindPermanent, Classify("mailgun", err).Kind)
}

func TestMailgun_MissingDomain(t *testing.T) {
	_, _, err := NewMailgun("", "key-1", "").Send(context.Background(), testMessage)
	assert.True(t, Classify("mailgun", err).Config)
}

type fakeSES struct {
	input *sesv2.SendEmailInput
	err   error
}

func (f *fakeSES) SendEmail(_ context.Context, in *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("ses-1")}, nil
}

func TestSES_Send(t *testing.T) {
	fake := &fakeSES{}
	ses := NewSESWithClient(fake, "transactional")

	id, raw, err := ses.Send(context.Background(), testMessage)
	require.NoError(t, err)
	assert.Equal(t, "ses-1", id)
	assert.Contains(t, raw, "ses-1")

	in := fake.input
	assert.Equal(t, "Shop <no-reply@shop.com>", aws.ToString(in.FromEmailAddress))
	assert.Equal(t, []string{"a@b.com"}, in.Destination.ToAddresses)
	assert.Equal(t, []string{"help@shop.com"}, in.ReplyToAddresses)
	assert.Equal(t, "Hi Ada", aws.ToString(in.Content.Simple.Body.Text.Data))
	assert.Equal(t, "transactional", aws.ToString(in.ConfigurationSetName))
}

func TestSES_ErrorClassification(t *testing.T) {
	tests := []struct {
		code   string
		fault  smithy.ErrorFault
		kind   Kind
		config bool
	}{
		{"TooManyRequestsException", smithy.FaultClient, KindTransient, false},
		{"MessageRejected", smithy.FaultClient, KindPermanent, false},
		{"AccessDeniedException", smithy.FaultClient, KindPermanent, true},
		{"SomethingNew", smithy.FaultServer, KindTransient, false},
		{"SomethingElse", smithy.FaultClient, KindPermanent, false},
	}
	for _, tt := range tests {
		fake := &fakeSES{err: &smithy.GenericAPIError{Code: tt.code, Message: "x", Fault: tt.fault}}
		_, _, err := NewSESWithClient(fake, "").Send(context.Background(), testMessage)
		e := Classify("ses", err)
		assert.Equal(t, tt.kind, e.Kind, tt.code)
		assert.Equal(t, tt.config, e.Config, tt.code)
	}

	plain := errors.New("dial tcp: i/o timeout")
	_, _, err := NewSESWithClient(&fakeSES{err: plain}, "").Send(context.Background(), testMessage)
	assert.Equal(t, KindTransient, Classify("ses", err).Kind)
}
