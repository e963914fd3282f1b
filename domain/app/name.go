// Package app holds identity constants shared across the client and server binaries.
package app

// Name is the application name used in logs, config paths, and the TUI banner.
const Name = "tunnelcore"
