// Package api exposes the delivery pipeline over HTTP: event intake,
// provider feedback webhooks, on-demand dispatch, suppression
// administration and provider health.
package api
