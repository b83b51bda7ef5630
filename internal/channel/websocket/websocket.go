// Package websocket carries web chat over a WebSocket: JSON {content} or
// {approval} frames in, outbound message frames back.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/zulandar/openhouse/internal/channel"
)

const writeTimeout = 10 * time.Second

// Conn is a channel.Channel over a WebSocket connection.
type Conn struct {
	conn *ws.Conn
	wmu  sync.Mutex
}

var _ channel.Channel = (*Conn)(nil)

// New wraps an established connection.
func New(conn *ws.Conn) *Conn {
	return &Conn{conn: conn}
}

// NewUpgrader returns an upgrader accepting the given origins. An empty list
// accepts any origin.
func NewUpgrader(allowedOrigins []string) *ws.Upgrader {
	return &ws.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowedOrigins {
				if o == "*" || strings.EqualFold(o, origin) {
					return true
				}
			}
			return false
		},
	}
}

// Receive reads the next frame. It honors ctx's deadline and cancellation.
func (c *Conn) Receive(ctx context.Context) (channel.Inbound, error) {
	deadline, _ := ctx.Deadline()
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return channel.Inbound{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if ctx.Err() != nil {
			return channel.Inbound{}, ctx.Err()
		}
		if closedErr(err) {
			return channel.Inbound{}, channel.ErrClosed
		}
		return channel.Inbound{}, err
	}
	return Decode(data)
}

// Decode parses one inbound frame.
func Decode(data []byte) (channel.Inbound, error) {
	var in channel.Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return channel.Inbound{}, fmt.Errorf("%w: %v", channel.ErrMalformed, err)
	}
	if in.Empty() {
		return channel.Inbound{}, fmt.Errorf("%w: frame has neither content nor approval", channel.ErrMalformed)
	}
	return in, nil
}

// Send writes one outbound frame.
func (c *Conn) Send(ctx context.Context, out channel.Outbound) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(writeTimeout)
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	if err := c.conn.WriteJSON(out); err != nil {
		if closedErr(err) {
			return channel.ErrClosed
		}
		return err
	}
	return nil
}

// Close sends a close frame and closes the connection.
func (c *Conn) Close() error {
	c.wmu.Lock()
	_ = c.conn.WriteControl(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, ""), time.Now().Add(time.Second))
	c.wmu.Unlock()
	return c.conn.Close()
}

func closedErr(err error) bool {
	var ce *ws.CloseError
	return errors.As(err, &ce) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, ws.ErrCloseSent)
}
