// Package natsutil classifies NATS and JetStream errors.
package natsutil

import (
	"errors"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/arloliu/custodian/types"
)

var connectivityErrors = []error{
	types.ErrConnectivity,
	nats.ErrTimeout,
	nats.ErrNoServers,
	nats.ErrDisconnected,
	nats.ErrConnectionClosed,
	nats.ErrConnectionDraining,
	nats.ErrNoResponders,
	jetstream.ErrNoStreamResponse,
}

// Transport errors that only surface as text from the dialer.
var connectivityMessages = []string{
	"connection refused",
	"connection reset",
	"i/o timeout",
}

// IsConnectivityError reports whether err means NATS could not be reached.
//
// The membership monitor uses it to tell a KV outage apart from member
// departures: a member is never declared gone because a lookup timed out.
//
// Parameters:
//   - err: Error to check
//
// Returns:
//   - bool: true if error indicates connectivity issue
func IsConnectivityError(err error) bool {
	if err == nil {
		return false
	}

	for _, target := range connectivityErrors {
		if errors.Is(err, target) {
			return true
		}
	}

	msg := err.Error()
	for _, m := range connectivityMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}

	return false
}

// IsNotFound reports whether err means a KV key or listing is absent:
// the key was never written, was deleted or purged, or the bucket is empty.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, jetstream.ErrKeyNotFound) ||
		errors.Is(err, jetstream.ErrKeyDeleted) ||
		errors.Is(err, jetstream.ErrNoKeysFound) ||
		types.IsNoKeysFoundError(err)
}
