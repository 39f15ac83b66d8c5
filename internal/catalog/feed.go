package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dyslexiview/dyslexiview/internal/api"
)

const (
	feedPath = "/api/recordings/ws"

	handshakeTimeout = 10 * time.Second
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	maxMessageSize   = 1 << 20
)

// WebSocketFeed receives full recordings lists over a websocket. Each text
// message is a JSON array in the same shape GET /api/recordings returns.
// It is only used with catalog.mode "push"; the service needs to provide
// the endpoint.
type WebSocketFeed struct {
	URL    string
	Dialer *websocket.Dialer
}

// NewWebSocketFeed derives the feed endpoint from the service base URL.
func NewWebSocketFeed(baseURL string) (*WebSocketFeed, error) {
	wsURL, err := FeedURL(baseURL)
	if err != nil {
		return nil, err
	}
	return &WebSocketFeed{
		URL:    wsURL,
		Dialer: &websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}, nil
}

// FeedURL maps http(s)://host to ws(s)://host/api/recordings/ws.
func FeedURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported base url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + feedPath
	return u.String(), nil
}

// Subscribe dials the feed and calls update for every list received. It
// returns when ctx is cancelled or the connection fails.
func (f *WebSocketFeed) Subscribe(ctx context.Context, update func([]api.Recording)) error {
	dialer := f.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	conn, _, err := dialer.DialContext(ctx, f.URL, nil)
	if err != nil {
		return fmt.Errorf("connect recordings feed: %w", err)
	}
	defer conn.Close()
	slog.Info("Connected to recordings feed", "url", f.URL)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stop := make(chan struct{})
	defer close(stop)
	go keepAlive(ctx, conn, stop)

	for {
		msgType, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return errors.New("recordings feed closed by server")
			}
			return fmt.Errorf("read recordings feed: %w", err)
		}
		if msgType != websocket.TextMessage {
			continue
		}

		var recs []api.Recording
		if err := json.Unmarshal(message, &recs); err != nil {
			slog.Warn("Failed to parse recordings feed message", "error", err)
			continue
		}
		if recs == nil {
			recs = []api.Recording{}
		}
		update(recs)
	}
}

// keepAlive pings the server and closes the connection when ctx ends, which
// unblocks the reader.
func keepAlive(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			_ = conn.Close()
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
