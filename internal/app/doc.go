// Package app builds the delivery pipeline from configuration. cmd/server
// and cmd/worker share it so both binaries wire the same components.
package app
