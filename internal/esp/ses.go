package esp

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"
)

// SESAPI is the subset of the SES v2 client used by the adapter.
type SESAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// SES sends email through AWS SES v2.
type SES struct {
	client           SESAPI
	configurationSet string
}

// NewSES builds an SES adapter. Static credentials are used when both keys
// are set, otherwise the default AWS credential chain applies.
func NewSES(ctx context.Context, region, accessKey, secretKey, configurationSet string) (*SES, error) {
	if region == "" {
		region = "us-east-1"
	}
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if accessKey != "" && secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSESWithClient(sesv2.NewFromConfig(cfg), configurationSet), nil
}

// NewSESWithClient wraps an existing SES v2 client.
func NewSESWithClient(client SESAPI, configurationSet string) *SES {
	return &SES{client: client, configurationSet: configurationSet}
}

func (s *SES) Name() string { return "ses" }

func (s *SES) Send(ctx context.Context, msg Message) (string, string, error) {
	if s.client == nil {
		return "", "", configError("ses", "client not initialized")
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(formatFrom(msg.FromName, msg.FromEmail)),
		Destination:      &types.Destination{ToAddresses: []string{msg.To}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body: &types.Body{
					Html: &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")},
				},
			},
		},
	}
	if msg.Text != "" {
		input.Content.Simple.Body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if msg.EventID != "" {
		input.EmailTags = []types.MessageTag{
			{Name: aws.String("event_id"), Value: aws.String(msg.EventID)},
		}
	}
	if s.configurationSet != "" {
		input.ConfigurationSetName = aws.String(s.configurationSet)
	}

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		return "", "", classifySES(err)
	}
	id := aws.ToString(out.MessageId)
	return id, fmt.Sprintf(`{"MessageId":%q}`, id), nil
}

func classifySES(err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return err
	}
	e := &Error{Provider: "ses", Code: apiErr.ErrorCode(), Msg: apiErr.ErrorMessage()}
	switch apiErr.ErrorCode() {
	case "TooManyRequestsException", "LimitExceededException", "Throttling", "ThrottlingException",
		"SendingPausedException", "ServiceUnavailable", "InternalFailure":
		e.Kind = KindTransient
	case "UnrecognizedClientException", "InvalidClientTokenId", "SignatureDoesNotMatch",
		"AccessDeniedException", "AccountSuspendedException", "ExpiredTokenException":
		e.Kind = KindPermanent
		e.Config = true
	case "MessageRejected", "MailFromDomainNotVerifiedException", "BadRequestException", "NotFoundException":
		e.Kind = KindPermanent
	default:
		if apiErr.ErrorFault() == smithy.FaultClient {
			e.Kind = KindPermanent
		} else {
			e.Kind = KindTransient
		}
	}
	return e
}
