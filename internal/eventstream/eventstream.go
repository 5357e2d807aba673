// Package eventstream publishes the event channel over WebSocket.
//
// Each client receives every event as an Envelope text frame, in publish
// order, starting from the moment it connected. A "types" query parameter
// (comma separated kinds) narrows the stream.
package eventstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rbright/parlance/internal/events"
)

const (
	// Path is where the stream is mounted.
	Path = "/events"

	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Source hands out event subscriptions.
type Source interface {
	Subscribe() *events.Subscription
	Unsubscribe(*events.Subscription)
}

// Handler upgrades requests and streams events.
type Handler struct {
	source   Source
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler builds a stream handler over source.
func NewHandler(source Source, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Handler{
		source: source,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// Mux mounts the handler at Path.
func (h *Handler) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle(Path, h)
	return mux
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	filter := parseFilter(r.URL.Query().Get("types"))

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied with an HTTP error.
		h.logger.Debug("event stream upgrade failed", "error", err.Error())
		return
	}
	defer conn.Close()

	sub := h.source.Subscribe()
	defer h.source.Unsubscribe(sub)

	h.logger.Debug("event stream client connected", "remote", r.RemoteAddr)
	closed := readUntilClose(conn)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case ev, ok := <-sub.C:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "event channel closed"),
					time.Now().Add(writeWait))
				return
			}
			if filter != nil {
				if _, keep := filter[ev.Kind()]; !keep {
					continue
				}
			}
			payload, err := events.Marshal(ev)
			if err != nil {
				h.logger.Error("encode event failed", "type", string(ev.Kind()), "error", err.Error())
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.Debug("event stream client gone", "error", err.Error())
				return
			}
		}
	}
}

// readUntilClose discards client frames and reports when the peer goes away.
func readUntilClose(conn *websocket.Conn) <-chan struct{} {
	closed := make(chan struct{})
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
	return closed
}

func parseFilter(raw string) map[events.Kind]struct{} {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	filter := make(map[events.Kind]struct{})
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			filter[events.Kind(part)] = struct{}{}
		}
	}
	return filter
}

// Client reads a remote event stream.
type Client struct {
	conn *websocket.Conn
}

// Dial connects to the stream served at addr (host:port), optionally narrowed to kinds.
func Dial(ctx context.Context, addr string, kinds ...events.Kind) (*Client, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: Path}
	if len(kinds) > 0 {
		names := make([]string, 0, len(kinds))
		for _, kind := range kinds {
			names = append(names, string(kind))
		}
		u.RawQuery = url.Values{"types": []string{strings.Join(names, ",")}}.Encode()
	}

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("dial event stream: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Next blocks for the next event.
func (c *Client) Next() (events.Event, error) {
	_, payload, err := c.conn.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	return events.Unmarshal(payload)
}

// Close closes the connection.
func (c *Client) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	return c.conn.Close()
}
