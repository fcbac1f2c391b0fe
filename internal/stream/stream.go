// Package stream ingests live trade notifications over a websocket, one
// long-lived subscription per watched event.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rewired-gh/polyterm/internal/logger"
	"github.com/rewired-gh/polyterm/internal/models"
)

const (
	handshakeTimeout = 30 * time.Second
	writeTimeout     = 10 * time.Second
	closeTimeout     = 5 * time.Second
	pingInterval     = 50 * time.Second
)

// Client dials live-trade subscriptions. Each Subscribe call opens an
// independent connection owned by the returned Handle.
type Client struct {
	url string
}

// NewClient creates a stream client for the given websocket URL.
func NewClient(url string) *Client {
	return &Client{url: url}
}

// Handle cancels one running subscription. Cancel is idempotent and safe
// to call after the stream has already finished.
type Handle struct {
	cancel context.CancelFunc
	once   sync.Once
	done   chan struct{}
}

// Cancel stops the subscription. The stream's goroutines exit shortly
// after; Done is closed once they have.
func (h *Handle) Cancel() {
	h.once.Do(h.cancel)
}

// Done is closed when the subscription's read loop has exited.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

type subscription struct {
	Action        string              `json:"action"`
	Subscriptions []subscriptionEntry `json:"subscriptions"`
}

type subscriptionEntry struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters,omitempty"`
}

// tradeMessage is one inbound trade notification.
type tradeMessage struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Payload struct {
		ID        string  `json:"id"`
		Asset     string  `json:"asset"`
		EventSlug string  `json:"eventSlug"`
		Outcome   string  `json:"outcome"`
		Price     float64 `json:"price"`
		Size      float64 `json:"size"`
		Side      string  `json:"side"`
		Timestamp int64   `json:"timestamp"`
		Title     string  `json:"title"`
		Name      string  `json:"name"`
		Pseudonym string  `json:"pseudonym"`
	} `json:"payload"`
}

// Subscribe opens a stream of live trades for one event and invokes
// onTrade for every decoded notification until the handle is cancelled.
// Messages that fail to decode are dropped with a log line; the stream
// itself stays up.
func (c *Client) Subscribe(ctx context.Context, eventSlug string, onTrade func(models.Trade)) (*Handle, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, c.url, http.Header{})
	if err != nil {
		return nil, err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	filters, _ := json.Marshal(map[string]string{"event_slug": eventSlug})
	sub := subscription{
		Action: "subscribe",
		Subscriptions: []subscriptionEntry{
			{Topic: "activity", Type: "trades", Filters: string(filters)},
		},
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}

	go pingLoop(streamCtx, conn)
	go func() {
		// Unblock the blocked read when the handle is cancelled.
		<-streamCtx.Done()
		deadline := time.Now().Add(closeTimeout)
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		conn.Close()
	}()
	go c.readLoop(streamCtx, conn, eventSlug, onTrade, h.done)

	logger.Info("Subscribed to live trades for %s", eventSlug)
	return h, nil
}

func pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				logger.Warn("Failed to send ping: %v", err)
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn, eventSlug string, onTrade func(models.Trade), done chan struct{}) {
	defer close(done)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				logger.Debug("Stream for %s closed: %v", eventSlug, ctx.Err())
			} else {
				logger.Error("Stream read for %s failed: %v", eventSlug, err)
			}
			return
		}

		trade, ok := DecodeTrade(raw)
		if !ok {
			logger.Debug("Dropping undecodable message on %s stream (%d bytes)", eventSlug, len(raw))
			continue
		}
		onTrade(trade)
	}
}

// DecodeTrade decodes one raw notification into a Trade. The second
// return value is false for non-trade messages (subscription acks,
// heartbeats) and payloads missing required fields.
func DecodeTrade(raw []byte) (models.Trade, bool) {
	var msg tradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return models.Trade{}, false
	}
	if msg.Topic != "activity" || msg.Type != "trades" {
		return models.Trade{}, false
	}
	p := msg.Payload
	if p.Asset == "" || p.Price <= 0 || p.Size <= 0 {
		return models.Trade{}, false
	}

	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	side := models.Buy
	if p.Side == "SELL" || p.Side == "sell" {
		side = models.Sell
	}
	trader := p.Pseudonym
	if trader == "" {
		trader = p.Name
	}
	ts := time.Now()
	if p.Timestamp > 0 {
		// Millisecond epoch timestamps; tolerate seconds.
		if p.Timestamp > 1_000_000_000_000 {
			ts = time.UnixMilli(p.Timestamp)
		} else {
			ts = time.Unix(p.Timestamp, 0)
		}
	}

	return models.Trade{
		ID:          id,
		Timestamp:   ts,
		Side:        side,
		Outcome:     p.Outcome,
		Price:       p.Price,
		Size:        p.Size,
		Value:       p.Price * p.Size,
		MarketTitle: p.Title,
		AssetID:     p.Asset,
		Trader:      trader,
	}, true
}
