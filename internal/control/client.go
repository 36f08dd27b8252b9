package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/crunchdao/model-runner-orchestrator/internal/clog"
)

// EventHandler decodes and applies membership events; invoked once per
// received init or update frame from Listen's read loop.
type EventHandler func(event string, records []Record)

// Client is a persistent duplex control-channel connection: connect, await
// the first `init`, then stream events until cancelled, while accepting
// outbound report_failure envelopes from any goroutine via Send.
type Client struct {
	host, crunchID string
	port           int
	log            *clog.CLogger

	dialer websocket.Dialer

	connMu sync.Mutex
	conn   *websocket.Conn

	handler EventHandler

	initOnce sync.Once
	initCh   chan struct{}

	pumpOnce sync.Once
	sendCh   chan OutboundEvent
}

// NewClient builds a control-channel client for the given cluster
// identity. handler is invoked for every decoded init/update event.
func NewClient(host string, port int, crunchID string, handler EventHandler) *Client {
	return &Client{
		host:     host,
		port:     port,
		crunchID: crunchID,
		handler:  handler,
		dialer:   websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		initCh:   make(chan struct{}),
		sendCh:   make(chan OutboundEvent, 64),
		log:      clog.New("control.client", "crunch_id", crunchID),
	}
}

func (c *Client) address() string {
	u := url.URL{Scheme: "ws", Host: fmt.Sprintf("%s:%d", c.host, c.port), Path: "/" + c.crunchID}
	return u.String()
}

// Connect opens the WebSocket connection. The first successful call also
// starts the outbound write pump, which survives later reconnects by
// re-reading the live connection under connMu rather than being restarted
// per-connection. It does not wait for the first init event — call Init
// for that.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := c.dialer.DialContext(ctx, c.address(), nil)
	if err != nil {
		return fmt.Errorf("control: dialing %s: %w", c.address(), err)
	}
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	c.pumpOnce.Do(func() { go c.writePump() })
	return nil
}

// Init blocks until the first `init` snapshot has been delivered to the
// handler, or ctx is done.
func (c *Client) Init(ctx context.Context) error {
	select {
	case <-c.initCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Listen reads and dispatches events until ctx is cancelled or the
// connection fails unrecoverably. A dropped transport is retried
// internally with exponential backoff; the subsequent init is authoritative
// and replaces the live set, which is exactly what cluster.Manager.HandleEvent
// does when the handler re-delivers it.
func (c *Client) Listen(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if err := c.reconnect(ctx); err != nil {
				return err
			}
			continue
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			c.log.Errorf("control channel read error: %v; reconnecting", err)
			c.connMu.Lock()
			c.conn = nil
			c.connMu.Unlock()
			continue
		}

		var ev InboundEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			c.log.Warnf("dropping unparseable control frame: %v", err)
			continue
		}

		switch ev.Event {
		case EventInit:
			c.handler(ev.Event, ev.Data)
			c.initOnce.Do(func() { close(c.initCh) })
		case EventUpdate:
			c.handler(ev.Event, ev.Data)
		default:
			c.log.Warnf("unknown control event %q", ev.Event)
		}
	}
}

func (c *Client) reconnect(ctx context.Context) error {
	bo := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)
	return backoff.Retry(func() error {
		return c.Connect(ctx)
	}, bo)
}

// Send enqueues an outbound event (report_failure) for delivery. It never
// blocks the caller beyond a short grace period; if the queue is still full
// after it, ev itself is dropped and an error returned rather than stalling
// the membership manager.
func (c *Client) Send(ev OutboundEvent) error {
	select {
	case c.sendCh <- ev:
		return nil
	case <-time.After(2 * time.Second):
		return fmt.Errorf("control: outbound queue full, dropping %s", ev.Event)
	}
}

func (c *Client) writePump() {
	for ev := range c.sendCh {
		data, err := json.Marshal(ev)
		if err != nil {
			c.log.Errorf("encoding outbound event: %v", err)
			continue
		}
		c.connMu.Lock()
		conn := c.conn
		var werr error
		if conn != nil {
			werr = conn.WriteMessage(websocket.TextMessage, data)
		}
		c.connMu.Unlock()
		if conn == nil {
			c.log.Errorf("dropping outbound event: no connection")
		} else if werr != nil {
			c.log.Errorf("control channel write error: %v", werr)
		}
	}
}

// Close terminates the connection and stops the write pump.
func (c *Client) Close() error {
	close(c.sendCh)
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}
