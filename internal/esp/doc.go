// Package esp sends rendered messages through email service providers.
//
// Each provider adapter (SES v2, SparkPost, Mailgun, SendGrid) implements
// Provider and reports failures as *Error values. Sender wraps the adapters
// with a per-call timeout and an optional per-provider rate limit, and turns
// every attempt into a Result whose Kind is one of sent, transient_error or
// permanent_error. Credential problems and unknown provider names are
// permanent configuration errors; their message starts with "config:".
package esp
