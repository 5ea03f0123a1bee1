package steam

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/skinvault/escrowd/internal/pkg/logger"
	"github.com/skinvault/escrowd/internal/pkg/metrics"
)

const (
	ReconnBaseDelay = 1 * time.Second
	ReconnMaxDelay  = 30 * time.Second
	PingPeriod      = 15 * time.Second // Keep-alive interval
)

// Stream consumes the platform's offer-state change feed over a
// websocket and republishes decoded events on a channel. Delivery is
// at-least-once; consumers must be idempotent.
type Stream struct {
	url    string
	apiKey string

	mu          sync.Mutex
	conn        *websocket.Conn
	isConnected bool

	events chan OfferEvent
	ctx    context.Context
	cancel context.CancelFunc
}

func NewStream(url, apiKey string) *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		url:    url,
		apiKey: apiKey,
		events: make(chan OfferEvent, 256),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Events returns the channel of decoded offer-state events.
func (s *Stream) Events() <-chan OfferEvent {
	return s.events
}

// Start launches the connection loop in a background goroutine
func (s *Stream) Start() {
	go s.runLoop()
}

// Stop closes the stream and its channel.
func (s *Stream) Stop() {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
}

func (s *Stream) runLoop() {
	defer close(s.events)
	delay := ReconnBaseDelay

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		if err := s.connect(); err != nil {
			logger.Error("offer stream connection failed", "error", err, "retry_in", delay)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > ReconnMaxDelay {
				delay = ReconnMaxDelay
			}
			continue
		}

		delay = ReconnBaseDelay
		s.mu.Lock()
		s.isConnected = true
		s.mu.Unlock()

		s.readLoop()

		s.mu.Lock()
		s.isConnected = false
		s.mu.Unlock()
	}
}

func (s *Stream) connect() error {
	header := http.Header{}
	if s.apiKey != "" {
		header.Set("Authorization", "Bearer "+s.apiKey)
	}
	conn, _, err := websocket.DefaultDialer.Dial(s.url, header)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	// Zombie check: without any data or pong within the window the
	// connection is considered dead and the read loop exits.
	readTimeout := PingPeriod + 10*time.Second
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	go func() {
		ticker := time.NewTicker(PingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.mu.Lock()
				if !s.isConnected || s.conn != conn {
					s.mu.Unlock()
					return
				}
				err := conn.WriteMessage(websocket.PingMessage, []byte{})
				s.mu.Unlock()
				if err != nil {
					return
				}
			}
		}
	}()

	return nil
}

func (s *Stream) readLoop() {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	defer conn.Close()

	readTimeout := PingPeriod + 10*time.Second

	for {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			logger.Error("offer stream read error", "error", err)
			return
		}

		var evts []OfferEvent
		if err := json.Unmarshal(message, &evts); err != nil {
			var single OfferEvent
			if err2 := json.Unmarshal(message, &single); err2 == nil {
				evts = []OfferEvent{single}
			} else {
				// control or keep-alive frame
				continue
			}
		}

		for _, ev := range evts {
			if ev.OfferID == "" {
				continue
			}
			metrics.OfferEvents.WithLabelValues(string(ev.NewState)).Inc()
			select {
			case s.events <- ev:
			case <-s.ctx.Done():
				return
			}
		}
	}
}
