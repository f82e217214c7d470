package util

import "errors"

// Relay error taxonomy. Callers classify with errors.Is; producers wrap these
// with github.com/pkg/errors to attach detail.
var (
	// ErrUpstreamUnavailable covers connect failures, timeouts and non-2xx answers from the camera.
	ErrUpstreamUnavailable = errors.New("upstream camera unavailable")

	// ErrMalformedStream means no complete frame could be cut before the buffer ceiling was hit.
	ErrMalformedStream = errors.New("malformed MJPEG stream")

	// ErrConsumerDisconnected is the expected end of a downstream consumer.
	ErrConsumerDisconnected = errors.New("consumer disconnected")

	// ErrConsumerLagging means a pass-through consumer fell so far behind it had to be evicted.
	ErrConsumerLagging = errors.New("consumer lagging behind upstream")
)
