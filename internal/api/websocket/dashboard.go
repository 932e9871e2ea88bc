// Package websocket streams live access dashboards to browsers.
package websocket

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/juju/clock"
	"github.com/rs/zerolog"

	"docgate/internal/access"
	"docgate/internal/api/middleware"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	defaultInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // tokens, not cookies, authenticate the socket
	},
}

// Message is a frame sent to the client. Clients may send {"type":"refresh"}
// to get a dashboard immediately.
type Message struct {
	Type      string            `json:"type"`
	Dashboard *access.Dashboard `json:"dashboard,omitempty"`
	Error     string            `json:"error,omitempty"`
}

// DashboardStreamer pushes the caller's dashboard every interval so that
// remaining times and states stay current without polling.
type DashboardStreamer struct {
	dashboards *access.Dashboards
	interval   time.Duration
	clock      clock.Clock
	logger     zerolog.Logger
}

func NewDashboardStreamer(d *access.Dashboards, interval time.Duration, clk clock.Clock, logger zerolog.Logger) *DashboardStreamer {
	if clk == nil {
		clk = clock.WallClock
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &DashboardStreamer{
		dashboards: d,
		interval:   interval,
		clock:      clk,
		logger:     logger.With().Str("component", "dashboard_ws").Logger(),
	}
}

// Handle upgrades the request and streams until the client goes away.
func (s *DashboardStreamer) Handle(c *gin.Context) {
	userID, _ := middleware.CurrentUser(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade websocket")
		return
	}
	defer conn.Close()

	ctx := c.Request.Context()
	logger := s.logger.With().Uint("user_id", userID).Logger()
	logger.Debug().Msg("dashboard stream opened")

	refresh := make(chan struct{}, 1)
	done := make(chan struct{})
	go s.readLoop(conn, refresh, done, logger)

	push := func() bool {
		msg := Message{Type: "dashboard"}
		dash, err := s.dashboards.Build(ctx, userID)
		if err != nil {
			logger.Error().Err(err).Msg("building dashboard")
			msg = Message{Type: "error", Error: "failed to build dashboard"}
		} else {
			msg.Dashboard = &dash
		}
		return s.write(conn, msg) == nil
	}

	if !push() {
		return
	}
	ticker := s.clock.NewTimer(s.interval)
	pinger := s.clock.NewTimer(pingPeriod)
	defer ticker.Stop()
	defer pinger.Stop()
	for {
		select {
		case <-done:
			logger.Debug().Msg("dashboard stream closed")
			return
		case <-ctx.Done():
			return
		case <-refresh:
			if !push() {
				return
			}
		case <-ticker.Chan():
			if !push() {
				return
			}
			ticker.Reset(s.interval)
		case <-pinger.Chan():
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			pinger.Reset(pingPeriod)
		}
	}
}

func (s *DashboardStreamer) write(conn *websocket.Conn, msg Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *DashboardStreamer) readLoop(conn *websocket.Conn, refresh chan<- struct{}, done chan<- struct{}, logger zerolog.Logger) {
	defer close(done)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, p, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug().Err(err).Msg("reading websocket message")
			}
			return
		}
		var msg Message
		if err := json.Unmarshal(p, &msg); err != nil {
			logger.Debug().Err(err).Msg("unmarshaling websocket message")
			continue
		}
		if msg.Type == "refresh" {
			select {
			case refresh <- struct{}{}:
			default:
			}
		}
	}
}
