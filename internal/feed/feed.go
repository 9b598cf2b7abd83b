// Package feed maintains the websocket connection to the Upstox market data
// feed, decodes last-traded-price updates, and hands them to the tick
// ingestor. It owns reconnection and resubscription; downstream never sees
// the connection lifecycle.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"

	"github.com/kunalnaik/strikewatch/internal/domain"
)

const (
	// writeWait bounds each websocket write.
	writeWait = 10 * time.Second
	// pongWait is how long to wait for a pong before declaring the
	// connection dead; pings go out at a third of it.
	pongWait   = 60 * time.Second
	pingPeriod = pongWait / 3
	// maxReconnectDelay caps the exponential backoff between dials.
	maxReconnectDelay = 30 * time.Second
)

// TickSink receives decoded ticks. The ingestor satisfies it.
type TickSink interface {
	Ingest(tick domain.Tick)
}

// URLProvider returns a fresh authorized websocket URL. Upstox feed URLs are
// single-use, so every (re)connect asks for a new one.
type URLProvider func(ctx context.Context) (string, error)

// Client is the market-feed websocket client.
type Client struct {
	urlProvider URLProvider
	sink        TickSink
	clock       domain.Clock
	logger      *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
	subs map[domain.InstrumentID]struct{}
}

// NewClient creates a feed client delivering into sink.
func NewClient(urlProvider URLProvider, sink TickSink, clock domain.Clock, logger *slog.Logger) *Client {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Client{
		urlProvider: urlProvider,
		sink:        sink,
		clock:       clock,
		logger:      logger.With(slog.String("component", "feed")),
		subs:        make(map[domain.InstrumentID]struct{}),
	}
}

// Subscribe adds instruments to the live subscription. Safe before or after
// Run; new ids are pushed to the broker immediately when connected.
func (c *Client) Subscribe(ids ...domain.InstrumentID) error {
	c.mu.Lock()
	added := make([]domain.InstrumentID, 0, len(ids))
	for _, id := range ids {
		if _, ok := c.subs[id]; !ok {
			c.subs[id] = struct{}{}
			added = append(added, id)
		}
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || len(added) == 0 {
		return nil
	}
	return c.sendSubscription(conn, "sub", added)
}

// Unsubscribe removes instruments from the live subscription.
func (c *Client) Unsubscribe(ids ...domain.InstrumentID) error {
	c.mu.Lock()
	removed := make([]domain.InstrumentID, 0, len(ids))
	for _, id := range ids {
		if _, ok := c.subs[id]; ok {
			delete(c.subs, id)
			removed = append(removed, id)
		}
	}
	conn := c.conn
	c.mu.Unlock()

	if conn == nil || len(removed) == 0 {
		return nil
	}
	return c.sendSubscription(conn, "unsub", removed)
}

// Run dials, reads, and reconnects with exponential backoff until ctx is
// done. It only returns early when the URL provider fails permanently.
func (c *Client) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = maxReconnectDelay

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		connected, err := c.connectAndRead(ctx)
		if err == nil {
			// Clean shutdown.
			return nil
		}
		if connected {
			// A session was established, so the next outage starts over
			// from the initial delay instead of the accumulated one.
			bo.Reset()
		}

		sleep := bo.NextBackOff()
		if sleep == backoff.Stop {
			sleep = maxReconnectDelay
		}
		c.logger.Warn("feed disconnected, reconnecting",
			slog.Duration("sleep", sleep), slog.Any("error", err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(sleep):
		}
	}
}

// connectAndRead runs one websocket session. The bool reports whether the
// connection was established and resubscribed, regardless of how the session
// ended.
func (c *Client) connectAndRead(ctx context.Context) (bool, error) {
	url, err := c.urlProvider(ctx)
	if err != nil {
		return false, fmt.Errorf("feed: authorize: %w", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false, fmt.Errorf("feed: dial: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	c.mu.Lock()
	c.conn = conn
	resub := make([]domain.InstrumentID, 0, len(c.subs))
	for id := range c.subs {
		resub = append(resub, id)
	}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()

	if len(resub) > 0 {
		if err := c.sendSubscription(conn, "sub", resub); err != nil {
			return false, fmt.Errorf("feed: resubscribe: %w", err)
		}
	}
	c.logger.Info("feed connected", slog.Int("subscriptions", len(resub)))

	// Close the connection when ctx ends so the blocking read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	go c.pingLoop(conn, done)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return true, nil
			}
			return true, fmt.Errorf("feed: read: %w", domain.ErrWSDisconnect)
		}
		c.handleMessage(message)
	}
}

func (c *Client) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// subscriptionMessage is the feed's subscribe/unsubscribe frame.
type subscriptionMessage struct {
	GUID   string `json:"guid"`
	Method string `json:"method"`
	Data   struct {
		Mode           string   `json:"mode"`
		InstrumentKeys []string `json:"instrumentKeys"`
	} `json:"data"`
}

func (c *Client) sendSubscription(conn *websocket.Conn, method string, ids []domain.InstrumentID) error {
	msg := subscriptionMessage{GUID: fmt.Sprintf("sw-%d", time.Now().UnixNano()), Method: method}
	msg.Data.Mode = "ltpc"
	msg.Data.InstrumentKeys = make([]string, 0, len(ids))
	for _, id := range ids {
		msg.Data.InstrumentKeys = append(msg.Data.InstrumentKeys, string(id))
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("feed: marshal %s: %w", method, err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("feed: send %s: %w", method, err)
	}
	return nil
}

// feedMessage is the LTPC frame the feed pushes per instrument.
type feedMessage struct {
	Type  string `json:"type"`
	Feeds map[string]struct {
		LTPC struct {
			LTP float64 `json:"ltp"`
			LTT int64   `json:"ltt,string"` // exchange ms epoch
		} `json:"ltpc"`
	} `json:"feeds"`
}

func (c *Client) handleMessage(message []byte) {
	var msg feedMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Debug("unparseable feed frame", slog.Any("error", err))
		return
	}
	if len(msg.Feeds) == 0 {
		return
	}

	received := c.clock.Now()
	for key, f := range msg.Feeds {
		exchangeTS := time.UnixMilli(f.LTPC.LTT)
		if f.LTPC.LTT == 0 {
			exchangeTS = received
		}
		c.sink.Ingest(domain.Tick{
			Instrument: domain.InstrumentID(key),
			Price:      f.LTPC.LTP,
			ExchangeTS: exchangeTS,
			ReceivedTS: received,
		})
	}
}
