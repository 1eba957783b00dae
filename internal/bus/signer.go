// Package bus implements the agent's bidirectional message bus client:
// credentialed HTTPS bootstrap, a long-lived AMQP connection with a
// draining consumer and reconnect-on-error, and a publisher with
// retry/backoff and a keepalive ping (spec.md §4.6).
//
// Grounded on original_source/hiveary/network.py's NetworkController,
// translated call-for-call: ensure_internet_connection, initialize_amqp,
// request_with_backoff, drain_events, publish_info_message, ping_pong.
package bus

import "net/http"

// RequestSigner is the external collaborator that signs an outbound HTTPS
// request. OAuth1-HMAC-SHA1 signing over the operator's access token is out
// of scope for the monitor core (spec.md §1); the bus client only needs
// something that can sign a *http.Request before it is sent.
type RequestSigner interface {
	Sign(req *http.Request) error
}

// RequestSignerFunc adapts a plain function to RequestSigner.
type RequestSignerFunc func(req *http.Request) error

func (f RequestSignerFunc) Sign(req *http.Request) error { return f(req) }
