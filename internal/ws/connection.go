package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ClientFrame is one inbound message on the persistent connection. Data is
// decoded per event; AckID links the acknowledgement back to the caller.
type ClientFrame struct {
	Event string          `json:"event"`
	AckID int64           `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ServerFrame is one outbound message: an acknowledgement (Event "ack") or
// a server-pushed notification.
type ServerFrame struct {
	Event string `json:"event"`
	AckID int64  `json:"ackId,omitempty"`
	Data  any    `json:"data,omitempty"`
}

type wsConn interface {
	Close() error
	WriteJSON(v any) error
	ReadJSON(v any) error
}

// Connection is one live persistent connection. Its inbound events are
// processed strictly one at a time in arrival order; outbound frames from
// the fan-out are queued and written by the same loop, so WriteJSON is
// never called concurrently.
type Connection struct {
	ws     wsConn
	userID string
	token  string

	fromClient chan ClientFrame
	fromServer chan ServerFrame
	done       chan struct{}
	closeOnce  sync.Once

	// rooms currently joined; guarded by the hub's lock.
	rooms map[string]struct{}
}

const outboundQueueSize = 100

func newConnection(ws wsConn, userID, token string) *Connection {
	return &Connection{
		ws:         ws,
		userID:     userID,
		token:      token,
		fromClient: make(chan ClientFrame),
		fromServer: make(chan ServerFrame, outboundQueueSize),
		done:       make(chan struct{}),
		rooms:      make(map[string]struct{}),
	}
}

// UserID returns the verified identity bound to the connection.
func (c *Connection) UserID() string { return c.userID }

// push queues an outbound frame. Delivery is best-effort: if the queue is
// full the frame is dropped.
func (c *Connection) push(frame ServerFrame) {
	select {
	case c.fromServer <- frame:
	case <-c.done:
	default:
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// handle runs the connection until the client disconnects, the context is
// cancelled, or process returns an error (for example a failed token
// re-check).
func (c *Connection) handle(ctx context.Context, process func(*Connection, ClientFrame) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errorCh := make(chan error, 2)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		errorCh <- c.pumpMessages(ctx)
		cancel()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errorCh <- c.mainLoop(ctx, process)
		cancel()
	}()

	var err error
	select {
	case err = <-errorCh:
	case <-ctx.Done():
	case <-c.done:
	}
	if err == nil {
		// The loop that caused the wakeup may have queued its error just
		// before cancelling.
		select {
		case err = <-errorCh:
		default:
		}
	}
	c.close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var frame ClientFrame
		if err := c.ws.ReadJSON(&frame); err != nil {
			return err
		}
		select {
		case c.fromClient <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context, process func(*Connection, ClientFrame) error) error {
	for {
		select {
		case frame := <-c.fromClient:
			if err := process(c, frame); err != nil {
				return err
			}
		case frame := <-c.fromServer:
			if err := c.ws.WriteJSON(frame); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		}
	}
}

// write sends a frame synchronously from the main loop (acks and error
// events).
func (c *Connection) write(frame ServerFrame) error {
	return c.ws.WriteJSON(frame)
}
