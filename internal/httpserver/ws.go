package httpserver

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/memory/go-server/internal/game"
	"github.com/robalobadob/memory/go-server/internal/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024
)

// wsMessage is a frame sent to the client.
type wsMessage struct {
	Type   string   `json:"type"` // snapshot | error
	Game   *gameRes `json:"game,omitempty"`
	Error  string   `json:"error,omitempty"`
	Prompt string   `json:"prompt,omitempty"`
}

// wsClient is one websocket attached to a session. Snapshots are coalesced:
// only the newest unsent one is kept, so a slow client never blocks the engine.
type wsClient struct {
	conn *websocket.Conn

	mu      sync.Mutex
	latest  *wsMessage
	version uint64
	seen    bool

	wake    chan struct{}
	replies chan wsMessage
	done    chan struct{}
}

func newWSClient(conn *websocket.Conn) *wsClient {
	return &wsClient{
		conn:    conn,
		wake:    make(chan struct{}, 1),
		replies: make(chan wsMessage, 16),
		done:    make(chan struct{}),
	}
}

// push queues v unless a newer snapshot was already queued.
func (c *wsClient) push(v gameRes) {
	c.mu.Lock()
	if c.seen && v.Version <= c.version {
		c.mu.Unlock()
		return
	}
	c.seen, c.version = true, v.Version
	c.latest = &wsMessage{Type: "snapshot", Game: &v}
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// reply queues a direct answer to the client, dropping it when the queue is full.
func (c *wsClient) reply(m wsMessage) {
	select {
	case c.replies <- m:
	default:
	}
}

// checkOrigin admits the configured client origin and same-host pages.
// Requests without an Origin header come from non-browser clients.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if strings.EqualFold(strings.TrimSuffix(origin, "/"), strings.TrimSuffix(s.opts.ClientOrigin, "/")) {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// handleWS upgrades the connection, streams snapshots of the session and
// applies actions sent by its owner. Other viewers are read-only.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	pid := s.playerID(r)
	owner := pid != "" && pid == sess.PlayerID

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade")
		return
	}
	c := newWSClient(conn)
	sess.Touch(s.clock.Now())

	unsubscribe := sess.Engine.Subscribe(func(snap game.Snapshot) {
		c.push(viewOf(sess, snap))
	})
	defer unsubscribe()
	c.push(viewOf(sess, sess.Engine.Snapshot()))

	log.Debug().Str("gameId", sess.ID).Bool("owner", owner).Msg("websocket attached")
	go c.writePump()
	s.readPump(c, sess, owner)
	close(c.done)
}

// readPump decodes actions until the connection fails.
func (s *Server) readPump(c *wsClient, sess *store.Session, owner bool) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().Err(err).Str("gameId", sess.ID).Msg("websocket read")
			}
			return
		}
		var a action
		if err := json.Unmarshal(data, &a); err != nil {
			c.reply(wsMessage{Type: "error", Error: "bad_json"})
			continue
		}
		if !owner {
			c.reply(wsMessage{Type: "error", Error: "forbidden"})
			continue
		}
		if _, aerr := s.perform(sess, a); aerr != nil {
			c.reply(wsMessage{Type: "error", Error: aerr.Code, Prompt: aerr.Prompt})
		}
	}
}

// writePump is the only writer on the connection.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	write := func(m *wsMessage) bool {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteJSON(m) == nil
	}

	for {
		select {
		case <-c.wake:
			c.mu.Lock()
			m := c.latest
			c.latest = nil
			c.mu.Unlock()
			if m != nil && !write(m) {
				return
			}

		case m := <-c.replies:
			if !write(&m) {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
