package web

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Bronek/clio/pkg/feed"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Connection is the transport side of a request as seen by the dispatcher.
type Connection interface {
	// ID identifies a persistent connection; empty for one-shot requests.
	ID() string
	Tag() string
	ClientIP() string
	IsAdmin() bool
	// Upgraded is true for websocket connections.
	Upgraded() bool
	// Send delivers a reply. status is only meaningful for one-shot
	// requests; websocket messages are always sent as text frames.
	Send(msg []byte, status int)
}

type reply struct {
	body   []byte
	status int
}

// httpConnection carries a single request. The first Send wins; the
// handler goroutine waits on replies.
type httpConnection struct {
	tag      string
	clientIP string
	isAdmin  bool

	once    sync.Once
	replies chan reply
}

func newHTTPConnection(tag, clientIP string, isAdmin bool) *httpConnection {
	return &httpConnection{
		tag:      tag,
		clientIP: clientIP,
		isAdmin:  isAdmin,
		replies:  make(chan reply, 1),
	}
}

func (c *httpConnection) ID() string       { return "" }
func (c *httpConnection) Tag() string      { return c.tag }
func (c *httpConnection) ClientIP() string { return c.clientIP }
func (c *httpConnection) IsAdmin() bool    { return c.isAdmin }
func (c *httpConnection) Upgraded() bool   { return false }

func (c *httpConnection) Send(msg []byte, status int) {
	c.once.Do(func() {
		c.replies <- reply{body: msg, status: status}
	})
}

// wsConnection queues outgoing messages for a single writer routine.
// Messages sent after the connection is closed are dropped; a full queue
// closes the connection.
type wsConnection struct {
	id       string
	tag      string
	clientIP string
	isAdmin  bool

	conn   *websocket.Conn
	out    chan []byte
	done   chan struct{}
	closer sync.Once
	logger zerolog.Logger
}

func newWSConnection(conn *websocket.Conn, id, tag, clientIP string, isAdmin bool, queueSize int, logger zerolog.Logger) *wsConnection {
	if queueSize <= 0 {
		queueSize = 1
	}
	return &wsConnection{
		id:       id,
		tag:      tag,
		clientIP: clientIP,
		isAdmin:  isAdmin,
		conn:     conn,
		out:      make(chan []byte, queueSize),
		done:     make(chan struct{}),
		logger: logger.With().
			Str("conn_id", id).
			Str("client_ip", clientIP).
			Logger(),
	}
}

func (c *wsConnection) ID() string       { return c.id }
func (c *wsConnection) Tag() string      { return c.tag }
func (c *wsConnection) ClientIP() string { return c.clientIP }
func (c *wsConnection) IsAdmin() bool    { return c.isAdmin }
func (c *wsConnection) Upgraded() bool   { return true }

func (c *wsConnection) Send(msg []byte, _ int) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.out <- msg:
	case <-c.done:
	default:
		wsDroppedConnections.Inc()
		c.logger.Warn().Int("queue_size", cap(c.out)).Msg("Sending queue is full, closing connection")
		c.close()
	}
}

// feedSender adapts the connection to the subscription registry.
func (c *wsConnection) feedSender() feed.Sender {
	return senderFunc(func(msg []byte) { c.Send(msg, http.StatusOK) })
}

type senderFunc func(msg []byte)

func (f senderFunc) Send(msg []byte) { f(msg) }

func (c *wsConnection) close() {
	c.closer.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// serve runs the reader, writer and keepalive routines until one of them
// fails or ctx is cancelled. onMessage is called for every text or binary
// message; an error from it ends the session.
func (c *wsConnection) serve(ctx context.Context, onMessage func(msg []byte) error) error {
	defer c.close()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return err
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.readMessages(onMessage)
	})
	g.Go(func() error {
		return c.writeMessages(gCtx)
	})
	g.Go(func() error {
		return c.keepalive(gCtx)
	})
	g.Go(func() error {
		// unblocks the reader once any routine has stopped
		select {
		case <-gCtx.Done():
		case <-c.done:
		}
		c.close()
		return nil
	})

	return g.Wait()
}

func (c *wsConnection) readMessages(onMessage func(msg []byte) error) error {
	for {
		kind, msg, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				return nil
			default:
			}
			return err
		}
		if kind != websocket.TextMessage && kind != websocket.BinaryMessage {
			continue
		}
		if err := onMessage(msg); err != nil {
			return err
		}
	}
}

func (c *wsConnection) writeMessages(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case msg := <-c.out:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return err
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
		}
	}
}

func (c *wsConnection) keepalive(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			return nil
		case <-ticker.C:
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				return err
			}
		}
	}
}
