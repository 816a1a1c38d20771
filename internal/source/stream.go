package source

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 30 * time.Second
)

// StreamTrade is one live trade event with the market it belongs to.
type StreamTrade struct {
	MarketID string
	Trade    RawTrade
}

// TradeStream pushes real-time trade events over WebSocket between polling
// cycles. It is optional; the polling path alone satisfies ingestion, the
// stream just tightens whale-detection latency.
type TradeStream struct {
	mu      sync.RWMutex
	writeMu sync.Mutex // serializes all writes on the current conn

	wsURL     string
	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}

	assets []string
	out    chan StreamTrade
}

// NewTradeStream creates a stream for the given websocket endpoint.
func NewTradeStream(wsURL string) *TradeStream {
	return &TradeStream{
		wsURL:  wsURL,
		stopCh: make(chan struct{}),
		out:    make(chan StreamTrade, 1000),
	}
}

// Trades returns the channel live trade events arrive on.
func (s *TradeStream) Trades() <-chan StreamTrade {
	return s.out
}

// SetAssets replaces the token ids to subscribe to on the next (re)connect.
func (s *TradeStream) SetAssets(assets []string) {
	s.mu.Lock()
	s.assets = assets
	conn := s.conn
	s.mu.Unlock()

	if conn != nil {
		if err := s.subscribe(conn); err != nil {
			log.Warn().Err(err).Msg("Stream resubscribe failed")
		}
	}
}

// Start connects and begins processing
func (s *TradeStream) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	go s.connectionLoop()
	log.Info().Msg("📡 Trade stream started")
}

// Stop closes the connection
func (s *TradeStream) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	s.running = false
	close(s.stopCh)

	if s.conn != nil {
		s.conn.Close()
	}
	log.Info().Msg("Trade stream stopped")
}

func (s *TradeStream) connectionLoop() {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		conn, err := s.connect()
		if err != nil {
			log.Error().Err(err).Msg("Stream connection failed, retrying...")
			time.Sleep(reconnectDelay)
			continue
		}

		// The ping loop lives exactly as long as this connection. Tying it
		// to stopCh instead would leak one ping writer per reconnect.
		done := make(chan struct{})
		go s.pingLoop(conn, done)
		s.readLoop(conn)
		close(done)

		time.Sleep(reconnectDelay)
	}
}

func (s *TradeStream) connect() (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(s.wsURL, nil)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	log.Info().Msg("🔌 Trade stream connected")

	if err := s.subscribe(conn); err != nil {
		log.Warn().Err(err).Msg("Stream subscribe failed")
	}
	return conn, nil
}

func (s *TradeStream) subscribe(conn *websocket.Conn) error {
	s.mu.RLock()
	assets := s.assets
	s.mu.RUnlock()

	msg := map[string]interface{}{
		"type":       "subscribe",
		"channel":    "market",
		"assets_ids": assets,
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return conn.WriteJSON(msg)
}

func (s *TradeStream) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *TradeStream) readLoop(conn *websocket.Conn) {
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("Stream read error")
			s.mu.Lock()
			s.connected = false
			s.mu.Unlock()
			return
		}

		s.processMessage(message)
	}
}

// streamMessage is one event from the market channel.
type streamMessage struct {
	EventType string   `json:"event_type"`
	Market    string   `json:"market"`
	Asset     string   `json:"asset_id"`
	ID        string   `json:"id"`
	Maker     string   `json:"maker_address"`
	Side      string   `json:"side"`
	Outcome   string   `json:"outcome"`
	Price     string   `json:"price"`
	Size      string   `json:"size"`
	Timestamp UnixTime `json:"timestamp"`
}

func (s *TradeStream) processMessage(data []byte) {
	var msgs []streamMessage
	if err := json.Unmarshal(data, &msgs); err != nil {
		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		msgs = []streamMessage{msg}
	}

	for _, msg := range msgs {
		if msg.EventType != "trade" && msg.EventType != "last_trade_price" {
			continue
		}
		raw := RawTrade{
			ID:        msg.ID,
			Maker:     msg.Maker,
			Side:      msg.Side,
			Outcome:   msg.Outcome,
			Timestamp: msg.Timestamp,
		}
		var err error
		if raw.Price, err = parseDecimal(msg.Price); err != nil {
			continue // malformed event, skip
		}
		if raw.Size, err = parseDecimal(msg.Size); err != nil {
			continue
		}

		select {
		case s.out <- StreamTrade{MarketID: msg.Market, Trade: raw}:
		default:
			// Consumer lagging; dropping is fine, the next poll re-fetches.
		}
	}
}
