package domain

import "time"

// MetricType names a reputation metric.
type MetricType string

const (
	MetricBounceRate    MetricType = "bounce_rate"
	MetricComplaintRate MetricType = "complaint_rate"
	MetricLatency       MetricType = "latency"
)

// HealthScope says what a metric is aggregated over.
type HealthScope string

const (
	ScopeProvider HealthScope = "provider"
	ScopeDomain   HealthScope = "domain"
)

// ProviderHealthMetric is the latest rolling value of one metric for one
// provider or sending domain. Rates are percentages; latency is in
// milliseconds. A newer window supersedes the stored one.
type ProviderHealthMetric struct {
	Scope       HealthScope `json:"scope" db:"scope"`
	Subject     string      `json:"subject" db:"subject"`
	Metric      MetricType  `json:"metric" db:"metric"`
	Value       float64     `json:"value" db:"value"`
	Threshold   float64     `json:"threshold" db:"threshold"`
	Samples     int64       `json:"samples" db:"samples"`
	WindowStart time.Time   `json:"window_start" db:"window_start"`
	WindowEnd   time.Time   `json:"window_end" db:"window_end"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Exceeded reports whether the metric is over its threshold with enough
// samples to trust it. A zero threshold disables the check.
func (m ProviderHealthMetric) Exceeded(minSamples int64) bool {
	if m.Threshold <= 0 || m.Samples < minSamples {
		return false
	}
	return m.Value > m.Threshold
}

// DeliveryCounts are the raw window counters a health metric is derived from.
type DeliveryCounts struct {
	Sent           int64
	Delivered      int64
	HardBounced    int64
	SoftBounced    int64
	Complained     int64
	LatencySamples int64
	LatencyTotalMS int64
}

// Bounced is the total of hard and soft bounces.
func (c DeliveryCounts) Bounced() int64 { return c.HardBounced + c.SoftBounced }

// Denominator is the number of messages rates are measured against. Sends
// are preferred; feedback-only windows fall back to delivered+bounced.
func (c DeliveryCounts) Denominator() int64 {
	if c.Sent > 0 {
		return c.Sent
	}
	return c.Delivered + c.Bounced()
}
