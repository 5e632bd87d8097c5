package logging

import "github.com/arloliu/custodian/types"

// NopLogger discards every message. Components fall back to it when no
// logger is configured.
type NopLogger struct{}

var _ types.Logger = (*NopLogger)(nil)

// NewNop returns a logger that discards all messages.
func NewNop() *NopLogger {
	return &NopLogger{}
}

func (n *NopLogger) Debug(string, ...any) {}
func (n *NopLogger) Info(string, ...any)  {}
func (n *NopLogger) Warn(string, ...any)  {}
func (n *NopLogger) Error(string, ...any) {}

// Fatal discards the message; it does not exit.
func (n *NopLogger) Fatal(string, ...any) {}
