package domain

import (
	"strings"
	"time"
)

// SuppressionReason enumerates why an address was suppressed.
type SuppressionReason string

const (
	ReasonHardBounce  SuppressionReason = "hard_bounce"
	ReasonSoftBounce  SuppressionReason = "soft_bounce"
	ReasonComplaint   SuppressionReason = "complaint"
	ReasonUnsubscribe SuppressionReason = "unsubscribe"
)

// Valid reports whether r is one of the known reasons.
func (r SuppressionReason) Valid() bool {
	switch r {
	case ReasonHardBounce, ReasonSoftBounce, ReasonComplaint, ReasonUnsubscribe:
		return true
	}
	return false
}

// Severity ranks reasons so a weaker signal never overwrites a stronger
// one on an active entry.
func (r SuppressionReason) Severity() int {
	switch r {
	case ReasonComplaint:
		return 4
	case ReasonHardBounce:
		return 3
	case ReasonUnsubscribe:
		return 2
	case ReasonSoftBounce:
		return 1
	}
	return 0
}

// SuppressionSource indicates where the suppression signal originated.
type SuppressionSource string

const (
	SourceESPWebhook SuppressionSource = "esp_webhook"
	SourceManual     SuppressionSource = "manual"
	SourceImport     SuppressionSource = "import"
)

// SuppressionEntry is a single address on the suppression list. Entries are
// upserted, never deleted; IsActive is only cleared by an administrator.
type SuppressionEntry struct {
	Email        string            `json:"email" db:"email"`
	Reason       SuppressionReason `json:"reason" db:"reason"`
	Source       SuppressionSource `json:"source" db:"source"`
	Provider     string            `json:"provider,omitempty" db:"provider"`
	Detail       string            `json:"detail,omitempty" db:"detail"`
	IsActive     bool              `json:"is_active" db:"is_active"`
	SuppressedAt time.Time         `json:"suppressed_at" db:"suppressed_at"`
	UpdatedAt    time.Time         `json:"updated_at" db:"updated_at"`
}

// NormalizeEmail lowercases and trims an address. Suppression entries and
// queued recipients are always stored in this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain returns the part after the last "@", or "" when there is none.
func EmailDomain(email string) string {
	i := strings.LastIndex(email, "@")
	if i < 0 || i == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[i+1:])
}

// ValidEmail is a cheap structural check: one "@", non-empty local part and
// a dotted domain. Deliverability is the provider's problem.
func ValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	at := strings.Index(email, "@")
	if at <= 0 || at != strings.LastIndex(email, "@") {
		return false
	}
	domain := email[at+1:]
	if strings.ContainsAny(email, " \t\r\n<>") {
		return false
	}
	dot := strings.LastIndex(domain, ".")
	return dot > 0 && dot < len(domain)-1
}
