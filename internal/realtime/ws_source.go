package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"matchchat/internal/domain"
)

// WSSource открывает подписки через WebSocket-эндпоинты сервера:
// /ws/conversations/:id для журнала матча и /ws/me для списка матчей.
type WSSource struct {
	// BaseURL - адрес API (http, https, ws или wss).
	BaseURL string
	Token   string
	Dialer  *websocket.Dialer
	Buffer  int
}

func (s *WSSource) Subscribe(ctx context.Context, target Target) (Stream, error) {
	endpoint, err := s.endpoint(target)
	if err != nil {
		return nil, err
	}
	dialer := s.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	header := http.Header{}
	if s.Token != "" {
		header.Set("Authorization", "Bearer "+s.Token)
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", endpoint, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}

	stream := &wsStream{
		conn:   conn,
		events: make(chan domain.Event, max(s.Buffer, 1)),
		done:   make(chan struct{}),
	}
	go stream.readLoop()
	return stream, nil
}

func (s *WSSource) endpoint(target Target) (string, error) {
	u, err := url.Parse(strings.TrimRight(s.BaseURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	switch target.Kind {
	case TargetConversation:
		u.Path += "/ws/conversations/" + target.ConversationID.String()
	case TargetUser:
		u.Path += "/ws/me"
	default:
		return "", fmt.Errorf("unknown target kind %q", target.Kind)
	}
	return u.String(), nil
}

type wsStream struct {
	conn   *websocket.Conn
	events chan domain.Event
	done   chan struct{}
	once   sync.Once

	mu  sync.Mutex
	err error
}

func (s *wsStream) Events() <-chan domain.Event { return s.events }

func (s *wsStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *wsStream) Close() {
	s.once.Do(func() {
		close(s.done)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = s.conn.Close()
	})
}

// readLoop: на ping сервера gorilla отвечает pong сама.
func (s *wsStream) readLoop() {
	defer close(s.events)
	for {
		var evt domain.Event
		if err := s.conn.ReadJSON(&evt); err != nil {
			select {
			case <-s.done:
			default:
				s.setErr(err)
			}
			return
		}
		select {
		case s.events <- evt:
		case <-s.done:
			return
		}
	}
}

func (s *wsStream) setErr(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
		err = ErrStreamClosed
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
