// internal/httpserver/server.go
//
// HTTP server wiring for the memory game backend.
// Responsibilities:
//   - Router + middleware (JSON, CORS, timeouts, panic recovery, request IDs).
//   - Public endpoints: "/", "/health", "/levels", "/leaderboard".
//   - Game endpoints (optional auth): /game/new and /game/{id}/...
//   - Daily Challenge endpoints (optional auth): mounted under /daily.
//   - Websocket push of snapshots: /game/{id}/ws (see ws.go).
//   - JWT verification + anonymous session cookie.
//   - Submitting won rounds to the leaderboard.
//
// Notes:
//   - CORS is origin-aware and credentials-enabled (so cookies work).
//   - Optional auth decorates requests with user context when a valid token is
//     present; routes still run for guests.
//   - Only the player who created a session may change it. Anyone holding the
//     game ID may read it.
//   - The websocket route sits outside the Timeout middleware because it
//     hijacks the connection.

package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	mrand "math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/quartz"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/robalobadob/memory/go-server/internal/game"
	"github.com/robalobadob/memory/go-server/internal/leaderboard"
	"github.com/robalobadob/memory/go-server/internal/levels"
	"github.com/robalobadob/memory/go-server/internal/store"
)

// Options carries the settings the server needs beyond its stores.
type Options struct {
	Levels         []game.Level
	Catalog        []string
	Clock          quartz.Clock // nil means the real clock
	ReversalDelay  time.Duration
	RequestTimeout time.Duration

	ClientOrigin string
	CookieName   string
	JWTSecret    string
	Production   bool

	DailySalt  string
	DailyLevel string
}

// Server bundles router, in-memory session store and leaderboard.
type Server struct {
	r        *chi.Mux
	store    store.Store
	results  *leaderboard.Store
	opts     Options
	clock    quartz.Clock
	decks    *game.DeckBuilder
	upgrader websocket.Upgrader
}

// New constructs a Server, installs middleware, and registers routes.
// results may be nil, in which case wins are not recorded.
func New(st store.Store, results *leaderboard.Store, opts Options) *Server {
	if opts.Clock == nil {
		opts.Clock = quartz.NewReal()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.CookieName == "" {
		opts.CookieName = "memory_token"
	}
	if opts.ClientOrigin == "" {
		opts.ClientOrigin = "http://localhost:5173"
	}
	s := &Server{
		r:       chi.NewRouter(),
		store:   st,
		results: results,
		opts:    opts,
		clock:   opts.Clock,
		decks:   game.NewDeckBuilder(opts.Catalog, newSource()),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.upgrader.CheckOrigin = s.checkOrigin

	// --- middleware ---
	s.r.Use(chimw.RequestID) // add X-Request-ID
	s.r.Use(chimw.RealIP)    // set RemoteAddr from X-Forwarded-For etc.
	s.r.Use(chimw.Recoverer) // recover from panics
	s.r.Use(s.cors)          // credentials-friendly CORS

	// Websocket: long-lived, so no timeout and no JSON content type.
	s.r.With(s.withOptionalAuth()).Get("/game/{id}/ws", s.handleWS)

	s.r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(opts.RequestTimeout)) // bound handler time
		r.Use(jsonContentType)                    // default JSON responses

		// --- diagnostics ---
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"service":"memory-go","endpoints":["/health","/levels","/leaderboard","POST /game/new","/game/{id}","/daily/*"]}`))
		})
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"ok":true}`))
		})

		r.Get("/levels", s.handleLevels)
		r.Get("/leaderboard", s.handleLeaderboard)

		// Game endpoints: optional auth, guests can play
		r.Group(func(r chi.Router) {
			r.Use(s.withOptionalAuth())
			r.Post("/game/new", s.handleNewGame)
			r.Get("/game/{id}", s.handleGetGame)
			r.Post("/game/{id}/start", s.handleAction("start"))
			r.Post("/game/{id}/flip", s.handleAction("flip"))
			r.Post("/game/{id}/restart", s.handleAction("restart"))
			r.Post("/game/{id}/level", s.handleAction("level"))

			// Daily Challenge: optional auth
			s.mountDaily(r)
		})
	})

	// JSON 404 for easier debugging
	s.r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "path": r.URL.Path})
	})

	return s
}

// Start begins serving HTTP on addr.
func (s *Server) Start(addr string) error { return http.ListenAndServe(addr, s.r) }

// Router exposes the internal router (useful for tests).
func (s *Server) Router() chi.Router { return s.r }

// ----------------------------- middleware ----------------------------------

// jsonContentType sets a default JSON Content-Type header on all responses.
func jsonContentType(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		next.ServeHTTP(w, r)
	})
}

// cors enables credentialed CORS for the configured client origin.
func (s *Server) cors(next http.Handler) http.Handler {
	origin := s.opts.ClientOrigin
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Vary", "Origin")
		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ------------------------------ LEVELS -------------------------------------

func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	_ = json.NewEncoder(w).Encode(map[string]any{"levels": s.opts.Levels})
}

// ------------------------------ GAME ---------------------------------------

// newGameReq is the payload for POST /game/new. Both fields are optional.
type newGameReq struct {
	Level string `json:"level"`
	Name  string `json:"name"` // display name for guests on the leaderboard
}

// gameRes is the client view of a session: its snapshot with face-down
// illustrations withheld.
type gameRes struct {
	GameID    string          `json:"gameId"`
	Daily     bool            `json:"daily,omitempty"`
	Date      string          `json:"date,omitempty"`
	Changed   *bool           `json:"changed,omitempty"`
	Version   uint64          `json:"version"`
	State     game.State      `json:"state"`
	Level     *game.Level     `json:"level,omitempty"`
	Cards     []game.CardView `json:"cards"`
	Selection []int           `json:"selection"`
	Stats     game.Stats      `json:"stats"`
}

func viewOf(sess *store.Session, snap game.Snapshot) gameRes {
	return gameRes{
		GameID:    sess.ID,
		Daily:     sess.Daily,
		Date:      sess.Date,
		Version:   snap.Version,
		State:     snap.State,
		Level:     snap.Level,
		Cards:     snap.Views(),
		Selection: snap.Selection,
		Stats:     snap.Stats,
	}
}

// handleNewGame creates a session for the caller and, when a level is named,
// deals its first round.
func (s *Server) handleNewGame(w http.ResponseWriter, r *http.Request) {
	var req newGameReq
	_ = json.NewDecoder(r.Body).Decode(&req)

	var lvl *game.Level
	if req.Level != "" {
		var ok bool
		if lvl, ok = levels.Find(s.opts.Levels, req.Level); !ok {
			writeError(w, http.StatusBadRequest, "unknown_level")
			return
		}
	}

	p := s.player(w, r)
	sess := s.newSession(p, req.Name, s.decks)
	if err := sess.Engine.StartRound(lvl); err != nil {
		sess.Engine.Close()
		log.Warn().Err(err).Str("level", req.Level).Msg("start round")
		writeError(w, http.StatusBadRequest, "invalid_level")
		return
	}
	if err := s.store.Save(r.Context(), sess); err != nil {
		sess.Engine.Close()
		log.Error().Err(err).Msg("save session")
		writeError(w, http.StatusInternalServerError, "save_failed")
		return
	}
	log.Info().Str("gameId", sess.ID).Str("level", req.Level).Msg("game created")

	_ = json.NewEncoder(w).Encode(viewOf(sess, sess.Engine.Snapshot()))
}

// handleGetGame returns the current snapshot of a session.
func (s *Server) handleGetGame(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	sess.Touch(s.clock.Now())
	_ = json.NewEncoder(w).Encode(viewOf(sess, sess.Engine.Snapshot()))
}

// newSession builds a session for p whose engine deals from dealer and
// reports wins to the leaderboard.
func (s *Server) newSession(p player, name string, dealer game.Dealer) *store.Session {
	if p.Name == "" {
		p.Name = cleanName(name)
	}
	sess := &store.Session{
		ID:         genID(),
		PlayerID:   p.ID,
		PlayerName: p.Name,
		CreatedAt:  s.clock.Now(),
		Engine: game.NewEngine(dealer,
			game.WithClock(s.clock),
			game.WithReversalDelay(s.opts.ReversalDelay),
		),
	}
	sess.Engine.Subscribe(func(snap game.Snapshot) {
		if snap.State == game.StateWon && snap.Stats.StartedAt != nil && sess.ClaimWin(*snap.Stats.StartedAt) {
			s.recordWin(sess, snap)
		}
	})
	return sess
}

// cleanName trims a guest display name to at most 24 runes.
func cleanName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "guest"
	}
	if r := []rune(name); len(r) > 24 {
		name = string(r[:24])
	}
	return name
}

// ------------------------------ ACTIONS ------------------------------------

// action is a player intent, shared by the JSON routes and the websocket.
type action struct {
	Type    string `json:"type"` // start | flip | restart | level
	CardID  *int   `json:"cardId,omitempty"`
	Confirm bool   `json:"confirm,omitempty"`
	Level   string `json:"level,omitempty"`
}

// actionError is a rejected action, rendered as {"error":code[,"prompt":...]}.
type actionError struct {
	Status int    `json:"-"`
	Code   string `json:"error"`
	Prompt string `json:"prompt,omitempty"`
}

func (e *actionError) Error() string { return e.Code }

// handleAction serves POST /game/{id}/<kind>.
func (s *Server) handleAction(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.store.Get(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		if s.playerID(r) != sess.PlayerID {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		var a action
		if err := json.NewDecoder(r.Body).Decode(&a); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "bad_json")
			return
		}
		a.Type = kind

		changed, aerr := s.perform(sess, a)
		if aerr != nil {
			writeJSON(w, aerr.Status, aerr)
			return
		}
		res := viewOf(sess, sess.Engine.Snapshot())
		res.Changed = &changed
		_ = json.NewEncoder(w).Encode(res)
	}
}

// perform applies a to the session's engine. A nil error with changed=false
// is a silent no-op (flip on a showing card, restart from idle, ...).
func (s *Server) perform(sess *store.Session, a action) (changed bool, aerr *actionError) {
	sess.Touch(s.clock.Now())
	eng := sess.Engine
	var prompted *game.PromptKind
	confirm := func(k game.PromptKind) bool {
		prompted = &k
		return a.Confirm
	}
	needConfirm := func() *actionError {
		if prompted != nil && !a.Confirm {
			return &actionError{Status: http.StatusConflict, Code: "confirmation_required", Prompt: prompted.Message()}
		}
		return nil
	}

	switch a.Type {
	case "flip":
		if a.CardID == nil {
			return false, &actionError{Status: http.StatusBadRequest, Code: "bad_json"}
		}
		return eng.Flip(*a.CardID), nil

	case "start":
		if sess.Daily {
			return false, &actionError{Status: http.StatusConflict, Code: "daily_session"}
		}
		lvl, ok := levels.Find(s.opts.Levels, a.Level)
		if !ok {
			return false, &actionError{Status: http.StatusBadRequest, Code: "unknown_level"}
		}
		// Starting never discards progress; leaving a played round goes through "level".
		started, err := eng.SwitchLevel(lvl, func(game.PromptKind) bool { return false })
		if err != nil {
			log.Warn().Err(err).Str("gameId", sess.ID).Msg("start round")
			return false, &actionError{Status: http.StatusBadRequest, Code: "invalid_level"}
		}
		if !started {
			return false, &actionError{Status: http.StatusConflict, Code: "round_in_progress"}
		}
		return true, nil

	case "restart":
		ok, err := eng.Restart(confirm)
		if err != nil {
			log.Warn().Err(err).Str("gameId", sess.ID).Msg("restart")
			if errors.Is(err, game.ErrInvalidLevelConfig) {
				return false, &actionError{Status: http.StatusBadRequest, Code: "invalid_level"}
			}
			return false, &actionError{Status: http.StatusInternalServerError, Code: "restart_failed"}
		}
		return ok, needConfirm()

	case "level":
		if sess.Daily {
			return false, &actionError{Status: http.StatusConflict, Code: "daily_session"}
		}
		ok := eng.ChangeLevel(confirm)
		return ok, needConfirm()
	}
	return false, &actionError{Status: http.StatusBadRequest, Code: "unknown_action"}
}

// ---------------------------- LEADERBOARD ----------------------------------

// recordWin submits a won round. Failures are logged and never affect play.
// Daily rounds are timed from the session's creation so restarting does not
// reset the clock.
func (s *Server) recordWin(sess *store.Session, snap game.Snapshot) {
	if s.results == nil || snap.Level == nil || snap.Stats.StartedAt == nil || snap.Stats.EndedAt == nil {
		return
	}
	start := *snap.Stats.StartedAt
	if sess.Daily {
		start = sess.CreatedAt
	}
	res := leaderboard.Result{
		PlayerID:   sess.PlayerID,
		PlayerName: sess.PlayerName,
		Level:      snap.Level.Name,
		Daily:      sess.Daily,
		Date:       sess.Date,
		Moves:      snap.Stats.Moves,
		Misses:     snap.Stats.Misses,
		ElapsedMs:  snap.Stats.EndedAt.Sub(start).Milliseconds(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.results.Insert(ctx, res); err != nil {
		log.Warn().Err(err).Str("gameId", sess.ID).Msg("record result")
		return
	}
	log.Info().
		Str("gameId", sess.ID).
		Str("level", res.Level).
		Bool("daily", res.Daily).
		Int("moves", res.Moves).
		Int64("elapsedMs", res.ElapsedMs).
		Msg("result recorded")
}

// lbRes is returned by the leaderboard endpoints.
type lbRes struct {
	Level string            `json:"level,omitempty"`
	Date  string            `json:"date,omitempty"`
	Top   []leaderboard.Row `json:"top"`
}

// handleLeaderboard returns the best free-play results for ?level= (default:
// the first level), limited by ?limit= (1-100, default 20).
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("level")
	if name == "" && len(s.opts.Levels) > 0 {
		name = s.opts.Levels[0].Name
	}
	lvl, ok := levels.Find(s.opts.Levels, name)
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown_level")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			writeError(w, http.StatusBadRequest, "bad_limit")
			return
		}
		limit = n
	}

	rows := []leaderboard.Row{}
	if s.results != nil {
		var err error
		if rows, err = s.results.Top(r.Context(), lvl.Name, limit); err != nil {
			log.Error().Err(err).Msg("leaderboard query")
			writeError(w, http.StatusInternalServerError, "db_error")
			return
		}
	}
	_ = json.NewEncoder(w).Encode(lbRes{Level: lvl.Name, Top: rows})
}

// --------------------------- optional auth ---------------------------------

// authUser is placed into request context by auth middleware.
type authUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// ctxUserKey is the context key type for storing authUser.
type ctxUserKey struct{}

// withOptionalAuth decorates requests with user context if a valid JWT is present.
// It never 401s; used for routes where guests are allowed. Tokens are issued
// by the account service sharing JWT_SECRET.
func (s *Server) withOptionalAuth() func(http.Handler) http.Handler {
	secret := []byte(s.opts.JWTSecret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tok := s.bearerOrCookie(r); tok != "" && len(secret) > 0 {
				claims := jwt.MapClaims{}
				t, err := jwt.ParseWithClaims(tok, claims, func(t *jwt.Token) (interface{}, error) {
					return secret, nil
				}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
				if err == nil && t.Valid {
					id, _ := claims["id"].(string)
					username, _ := claims["username"].(string)
					if id != "" {
						ctx := context.WithValue(r.Context(), ctxUserKey{}, &authUser{ID: id, Username: username})
						r = r.WithContext(ctx)
					}
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bearerOrCookie extracts a bearer token from Authorization header or auth cookie.
func (s *Server) bearerOrCookie(r *http.Request) string {
	if a := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(a), "bearer ") {
		return strings.TrimSpace(a[7:])
	}
	if c, err := r.Cookie(s.opts.CookieName); err == nil {
		return c.Value
	}
	return ""
}

const anonCookieName = "memory_anon"

// player identifies the caller of a request.
type player struct {
	ID   string
	Name string // empty for guests
}

// player returns the authenticated user, or the anonymous cookie identity
// (issuing the cookie when missing).
func (s *Server) player(w http.ResponseWriter, r *http.Request) player {
	if me, _ := r.Context().Value(ctxUserKey{}).(*authUser); me != nil {
		return player{ID: me.ID, Name: me.Username}
	}
	return player{ID: s.ensureAnonID(w, r)}
}

// playerID is player without side effects; "" when the caller is unknown.
func (s *Server) playerID(r *http.Request) string {
	if me, _ := r.Context().Value(ctxUserKey{}).(*authUser); me != nil {
		return me.ID
	}
	if c, err := r.Cookie(anonCookieName); err == nil {
		return c.Value
	}
	return ""
}

// ensureAnonID returns an existing anon cookie or sets a new one.
func (s *Server) ensureAnonID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(anonCookieName); err == nil && c.Value != "" {
		return c.Value
	}
	id := genID()
	sameSite := http.SameSiteLaxMode
	if s.opts.Production {
		sameSite = http.SameSiteNoneMode // required for third-party contexts when Secure
	}
	http.SetCookie(w, &http.Cookie{
		Name:     anonCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.Production,
		SameSite: sameSite,
		Expires:  time.Now().Add(180 * 24 * time.Hour),
	})
	return id
}

// ------------------------------- small util --------------------------------

// genID creates a 22-char URL-safe, crypto-random identifier (no padding).
func genID() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return base64.RawURLEncoding.EncodeToString(b[:])
}

// newSource returns a ChaCha8 source seeded from crypto/rand.
func newSource() mrand.Source {
	var seed [32]byte
	_, _ = rand.Read(seed[:])
	return mrand.NewChaCha8(seed)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
