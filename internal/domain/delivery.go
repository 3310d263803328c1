package domain

import "time"

// DeliveryEventType enumerates provider interactions recorded in the
// delivery log.
type DeliveryEventType string

const (
	DeliverySent         DeliveryEventType = "sent"
	DeliveryFailed       DeliveryEventType = "failed"
	DeliveryDelivered    DeliveryEventType = "delivered"
	DeliveryBounced      DeliveryEventType = "bounced"
	DeliverySoftBounced  DeliveryEventType = "soft_bounced"
	DeliveryComplained   DeliveryEventType = "complained"
	DeliveryOpened       DeliveryEventType = "opened"
	DeliveryClicked      DeliveryEventType = "clicked"
	DeliveryUnsubscribed DeliveryEventType = "unsubscribed"
)

// DeliveryLog is an append-only record of one provider interaction. It is
// both the audit trail and the feed for reputation aggregation.
type DeliveryLog struct {
	ID              string            `json:"id" db:"id"`
	EventID         string            `json:"event_id,omitempty" db:"event_id"`
	EventExternalID string            `json:"event_external_id,omitempty" db:"event_external_id"`
	Provider        string            `json:"provider" db:"provider"`
	EventType       DeliveryEventType `json:"event_type" db:"event_type"`
	Recipient       string            `json:"recipient,omitempty" db:"recipient"`
	SendingDomain   string            `json:"sending_domain,omitempty" db:"sending_domain"`
	LatencyMS       int64             `json:"latency_ms,omitempty" db:"latency_ms"`
	RawResponse     string            `json:"raw_response,omitempty" db:"raw_response"`
	Timestamp       time.Time         `json:"timestamp" db:"timestamp"`
}
