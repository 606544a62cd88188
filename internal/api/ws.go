package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/0xredeth/doneth/internal/pubsub"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// serveWS upgrades to a websocket and streams committed events. The
// optional campaign query parameter limits the feed to one campaign.
func (s *Server) serveWS(c *gin.Context) {
	if s.broadcaster == nil {
		ErrorResponse(c, http.StatusServiceUnavailable, "live feed disabled")
		return
	}

	var campaign string
	if raw := c.Query("campaign"); raw != "" {
		addr, ok := parseAddress(c, raw)
		if !ok {
			return
		}
		campaign = addr
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}

	sub := s.broadcaster.Subscribe(campaign)
	wsc := &wsConnection{
		conn:        conn,
		sub:         sub,
		broadcaster: s.broadcaster,
		closing:     make(chan struct{}),
		log:         log.With().Str("wsconn", sub.ID).Str("campaign", campaign).Logger(),
	}
	wsc.log.Info().Msg("WS connected")

	go wsc.listen()
	go wsc.sender()
}

type wsConnection struct {
	conn        *websocket.Conn
	sub         *pubsub.Subscription
	broadcaster *pubsub.Broadcaster
	log         zerolog.Logger

	closeMu sync.Mutex
	closed  bool
	closing chan struct{}
}

func (c *wsConnection) close() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.closing)
	c.broadcaster.Unsubscribe(c.sub)
	_ = c.conn.Close()
	c.log.Info().Uint64("dropped", c.sub.Dropped()).Msg("WS disconnected")
}

// sender is the only writer on the connection.
func (c *wsConnection) sender() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.sub.C:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
					time.Now().Add(writeWait))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.log.Error().Err(err).Msg("send failed, closing connection")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.closing:
			return
		}
	}
}

// listen drains client frames so control messages are processed. The feed
// is one-way; client payloads are ignored.
func (c *wsConnection) listen() {
	defer c.close()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug().Err(err).Msg("WS read failed")
			}
			return
		}
	}
}
