package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/domainwallet/walletcore/internal/logger"
)

const (
	writeTimeout  = 10 * time.Second
	channelBuffer = 16
)

// WebsocketTransport publishes requests over a single relay
// connection and feeds decoded responses to its Responses channel.
// Writes are serialized through a sink channel so Publish is safe for
// concurrent use.
type WebsocketTransport struct {
	conn      *websocket.Conn
	writeSink chan []byte
	responses chan *Response

	closeOnce sync.Once
	closed    chan struct{}
}

// DialWebsocket connects to the relay at url and starts the read and
// write loops. The transport shuts down when ctx is canceled, Close is
// called, or the connection drops.
func DialWebsocket(ctx context.Context, url string) (*WebsocketTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing relay %s: %w", url, err)
	}

	t := &WebsocketTransport{
		conn:      conn,
		writeSink: make(chan []byte, channelBuffer),
		responses: make(chan *Response, channelBuffer),
		closed:    make(chan struct{}),
	}

	go t.readMessages(ctx)
	go t.writeMessages(ctx)
	return t, nil
}

// Publish encodes the request and queues it for the write loop.
func (t *WebsocketTransport) Publish(ctx context.Context, req *Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding request %s: %w", req.ID, err)
	}

	select {
	case t.writeSink <- payload:
		return nil
	case <-t.closed:
		return fmt.Errorf("relay transport closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CancelRequest tells the remote side to drop an in-flight request.
// Delivery is best effort.
func (t *WebsocketTransport) CancelRequest(ctx context.Context, topic, requestID string) error {
	return t.Publish(ctx, &Request{
		ID:     requestID,
		Topic:  topic,
		Method: "wallet_cancelRequest",
	})
}

// Responses returns the channel of decoded responses. The channel is
// closed when the read loop exits.
func (t *WebsocketTransport) Responses() <-chan *Response {
	return t.responses
}

// Close tears the connection down. Safe to call more than once.
func (t *WebsocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

func (t *WebsocketTransport) readMessages(ctx context.Context) {
	defer close(t.responses)
	defer t.Close()

	for {
		_, payload, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Error(ctx, "relay connection closed unexpectedly", "error", err)
			}
			return
		}
		if len(payload) == 0 {
			continue
		}

		var resp Response
		if err := json.Unmarshal(payload, &resp); err != nil {
			logger.Warn(ctx, "dropping undecodable relay message", "error", err)
			continue
		}

		select {
		case t.responses <- &resp:
		case <-t.closed:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (t *WebsocketTransport) writeMessages(ctx context.Context) {
	defer t.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.closed:
			return
		case payload := <-t.writeSink:
			deadline := time.Now().Add(writeTimeout)
			if err := t.conn.SetWriteDeadline(deadline); err != nil {
				logger.Error(ctx, "setting relay write deadline", "error", err)
				return
			}
			if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Error(ctx, "writing to relay", "error", err)
				return
			}
		}
	}
}
