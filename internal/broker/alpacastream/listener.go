// Package alpacastream implements a raw trade_updates listener against
// Alpaca's authenticated order-events WebSocket channel. The protocol
// (auth message, then listen message, then trade_updates frames) is not
// covered by the SDK's market-data streaming helper, so this talks directly
// to the wire with gorilla/websocket.
package alpacastream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readTimeout      = 60 * time.Second
	pingInterval     = 30 * time.Second
	maxReconnectWait = 60 * time.Second
)

// TradeUpdate is the subset of Alpaca's trade_updates payload the reconciler
// and listener care about.
type TradeUpdate struct {
	Event string `json:"event"`
	Order struct {
		ID             string  `json:"id"`
		ClientOrderID  string  `json:"client_order_id"`
		Symbol         string  `json:"symbol"`
		Status         string  `json:"status"`
		FilledAvgPrice *string `json:"filled_avg_price"`
	} `json:"order"`
}

// Handler is invoked for every trade_updates frame received.
type Handler func(update TradeUpdate)

// Listener maintains a reconnecting authenticated connection to Alpaca's
// trade_updates stream.
type Listener struct {
	url       string
	keyID     string
	secretKey string
	handler   Handler
}

// New builds a Listener. url is the account's streaming endpoint
// (wss://.../stream), keyID/secretKey are the Alpaca trading credentials.
func New(url, keyID, secretKey string, handler Handler) *Listener {
	return &Listener{url: url, keyID: keyID, secretKey: secretKey, handler: handler}
}

// Run connects and re-connects with exponential backoff until ctx is
// cancelled, mirroring the teacher's manualReconnectLoop shape.
func (l *Listener) Run(ctx context.Context) {
	backoff := time.Second

	for {
		if ctx.Err() != nil {
			return
		}
		err := l.connectAndListen(ctx)
		if ctx.Err() != nil {
			return
		}
		log.Printf("trade_updates stream disconnected: %v (retrying in %s)", err, backoff)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (l *Listener) connectAndListen(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{
		"action": "auth",
		"key":    l.keyID,
		"secret": l.secretKey,
	}); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	var authResp struct {
		Stream string `json:"stream"`
		Data   struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := conn.ReadJSON(&authResp); err != nil {
		return fmt.Errorf("auth response: %w", err)
	}
	if authResp.Data.Status != "authorized" {
		return fmt.Errorf("auth rejected: %s", authResp.Data.Status)
	}

	if err := conn.WriteJSON(map[string]any{
		"action": "listen",
		"data": map[string]any{
			"streams": []string{"trade_updates"},
		},
	}); err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	log.Println("trade_updates stream connected")

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go l.pingLoop(pingCtx, conn)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		l.dispatch(raw)
	}
}

func (l *Listener) dispatch(raw []byte) {
	var envelope struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return
	}
	if envelope.Stream != "trade_updates" {
		return
	}
	var update TradeUpdate
	if err := json.Unmarshal(envelope.Data, &update); err != nil {
		log.Printf("trade_updates decode error: %v", err)
		return
	}
	if l.handler != nil {
		l.handler(update)
	}
}

func (l *Listener) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
