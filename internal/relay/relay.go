// Package relay carries delegated requests to external signer apps
// and delivers their asynchronous responses.
package relay

import (
	"context"
	"encoding/json"

	"github.com/domainwallet/walletcore/pkg/types"
)

// Request is the wire form of a delegated request published on a
// session topic.
type Request struct {
	ID     string              `json:"id"`
	Topic  string              `json:"topic"`
	Method types.RequestMethod `json:"method"`
	Params json.RawMessage     `json:"params"`
}

// ResponseError is a peer-reported failure.
type ResponseError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is the wire form of a response to a delegated request.
type Response struct {
	ID     string          `json:"id"`
	Topic  string          `json:"topic"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *ResponseError  `json:"error,omitempty"`
}

// Transport publishes requests and surfaces responses. The primary
// implementation is WebSocket-based; tests use an in-memory fake.
type Transport interface {
	// Publish sends a request on its session topic.
	Publish(ctx context.Context, req *Request) error

	// Responses returns the channel on which responses arrive. The
	// channel is closed when the transport shuts down.
	Responses() <-chan *Response

	// Close tears the transport down.
	Close() error
}

// Canceler is implemented by transports that can tell the remote side
// to drop an in-flight request.
type Canceler interface {
	CancelRequest(ctx context.Context, topic, requestID string) error
}
