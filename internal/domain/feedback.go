package domain

import "time"

// FeedbackType is the kind of asynchronous provider notification.
type FeedbackType string

const (
	FeedbackBounce      FeedbackType = "bounce"
	FeedbackComplaint   FeedbackType = "complaint"
	FeedbackDelivery    FeedbackType = "delivery"
	FeedbackOpen        FeedbackType = "open"
	FeedbackClick       FeedbackType = "click"
	FeedbackUnsubscribe FeedbackType = "unsubscribe"
)

// BounceType distinguishes permanent from transient bounces.
type BounceType string

const (
	BounceHard BounceType = "hard"
	BounceSoft BounceType = "soft"
)

// FeedbackEvent is one delivery/bounce/complaint notification as received on
// the webhook.
type FeedbackEvent struct {
	Type       FeedbackType `json:"type"`
	Email      string       `json:"email"`
	Timestamp  time.Time    `json:"timestamp"`
	Reason     string       `json:"reason,omitempty"`
	BounceType BounceType   `json:"bounceType,omitempty"`
	MessageID  string       `json:"messageId,omitempty"`
	Provider   string       `json:"provider,omitempty"`
}
