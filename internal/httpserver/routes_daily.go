// internal/httpserver/routes_daily.go
//
// HTTP routes for the "Daily Challenge" mode.
// Exposes two endpoints under /daily:
//   - POST /daily/new         → start a daily game (creates or reuses session)
//   - GET  /daily/leaderboard → fetch top results for today (or a given date)
//
// Every player gets the same deck on a given UTC date: the deck is dealt from
// a source seeded with date + salt, re-seeded on every deal so restarting
// replays the same layout. The session is then played through the regular
// /game/{id}/... endpoints.
//
// Each player can submit one result per day (enforced by a unique index).
// Sessions are held in memory for active play and persisted to DB on win.

package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/memory/go-server/internal/daily"
	"github.com/robalobadob/memory/go-server/internal/game"
	"github.com/robalobadob/memory/go-server/internal/levels"
	"github.com/robalobadob/memory/go-server/internal/leaderboard"
)

// dailyServer wraps dependencies for /daily endpoints.
type dailyServer struct {
	srv      *Server
	salt     string
	level    *game.Level       // nil when no level is configured
	sessions map[string]string // game IDs keyed by playerID|date
	mu       sync.Mutex        // guards sessions
}

// mountDaily registers all /daily routes.
func (s *Server) mountDaily(r chi.Router) {
	dd := &dailyServer{
		srv:      s,
		salt:     s.opts.DailySalt,
		level:    dailyLevel(s.opts.Levels, s.opts.DailyLevel),
		sessions: make(map[string]string),
	}
	r.Route("/daily", func(r chi.Router) {
		r.Post("/new", dd.handleNew)
		r.Get("/leaderboard", dd.handleLeaderboard)
	})
}

// dailyLevel picks the configured level, falling back to the first one.
func dailyLevel(all []game.Level, name string) *game.Level {
	if lvl, ok := levels.Find(all, name); ok {
		return lvl
	}
	if len(all) > 0 {
		l := all[0]
		return &l
	}
	return nil
}

// dealer deals the deck of day. Each call starts from a fresh source so every
// deal of the day is identical.
func (d *dailyServer) dealer(day time.Time) game.Dealer {
	catalog := d.srv.opts.Catalog
	return game.DealerFunc(func(pairCount int) ([]game.Card, error) {
		return game.NewDeckBuilder(catalog, daily.Source(day, d.salt)).Build(pairCount)
	})
}

// -----------------------------------------------------------------------------
// /daily/new

// dailyRes is returned by /daily/new.
type dailyRes struct {
	GameID string   `json:"gameId"`
	Date   string   `json:"date"`
	Played bool     `json:"played"`
	Game   *gameRes `json:"game,omitempty"`
}

// handleNew creates or reuses a daily session for the current date.
//   - If the player already has a result for today → Played=true.
//   - Otherwise create/reuse an in-memory session and return its snapshot.
func (d *dailyServer) handleNew(w http.ResponseWriter, r *http.Request) {
	if d.level == nil {
		writeError(w, http.StatusServiceUnavailable, "daily_unavailable")
		return
	}
	var req newGameReq
	_ = json.NewDecoder(r.Body).Decode(&req)

	p := d.srv.player(w, r)
	now := d.srv.clock.Now()
	date := daily.DateKey(now)

	if d.srv.results != nil {
		played, err := d.srv.results.AlreadyPlayed(r.Context(), p.ID, date)
		if err != nil {
			log.Warn().Err(err).Str("player", p.ID).Msg("daily already-played check")
		} else if played {
			_ = json.NewEncoder(w).Encode(dailyRes{Date: date, Played: true})
			return
		}
	}

	key := p.ID + "|" + date
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pruneLocked(r.Context(), date)

	// Reuse the session when it is still around.
	if id, ok := d.sessions[key]; ok {
		if sess, err := d.srv.store.Get(r.Context(), id); err == nil {
			sess.Touch(now)
			v := viewOf(sess, sess.Engine.Snapshot())
			_ = json.NewEncoder(w).Encode(dailyRes{GameID: sess.ID, Date: date, Game: &v})
			return
		}
	}

	sess := d.srv.newSession(p, req.Name, d.dealer(now))
	sess.Daily = true
	sess.Date = date
	if err := sess.Engine.StartRound(d.level); err != nil {
		sess.Engine.Close()
		log.Error().Err(err).Str("level", d.level.Name).Msg("daily start round")
		writeError(w, http.StatusInternalServerError, "invalid_level")
		return
	}
	if err := d.srv.store.Save(r.Context(), sess); err != nil {
		sess.Engine.Close()
		log.Error().Err(err).Msg("save daily session")
		writeError(w, http.StatusInternalServerError, "save_failed")
		return
	}
	d.sessions[key] = sess.ID
	log.Info().Str("gameId", sess.ID).Str("date", date).Msg("daily game created")

	v := viewOf(sess, sess.Engine.Snapshot())
	_ = json.NewEncoder(w).Encode(dailyRes{GameID: sess.ID, Date: date, Game: &v})
}

// pruneLocked drops sessions of previous days. Caller holds d.mu.
func (d *dailyServer) pruneLocked(ctx context.Context, today string) {
	for key, id := range d.sessions {
		if strings.HasSuffix(key, "|"+today) {
			continue
		}
		delete(d.sessions, key)
		_ = d.srv.store.Delete(ctx, id)
	}
}

// -----------------------------------------------------------------------------
// /daily/leaderboard

// handleLeaderboard returns the leaderboard for the given date (default today).
func (d *dailyServer) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		date = daily.DateKey(d.srv.clock.Now())
	} else if _, err := time.Parse("2006-01-02", date); err != nil {
		writeError(w, http.StatusBadRequest, "bad_date")
		return
	}
	rows := []leaderboard.Row{}
	if d.srv.results != nil {
		var err error
		if rows, err = d.srv.results.Daily(r.Context(), date, 0); err != nil {
			log.Error().Err(err).Msg("daily leaderboard query")
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
	}
	_ = json.NewEncoder(w).Encode(lbRes{Date: date, Top: rows})
}
