package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bufficorns/internal/game"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const tokenContextKey contextKey = "token"

// RequestRecorder counts served requests. metrics.Metrics implements it.
type RequestRecorder interface {
	Request(route, code string)
}

type Options struct {
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// Requests, when set, counts requests per route pattern.
	Requests RequestRecorder
	// TradeLimiter rate limits POST /v1/trades when set.
	TradeLimiter *Limiter
}

type Server struct {
	log  *slog.Logger
	game *game.Service
	opts Options
	mux  *chi.Mux
}

func New(logger *slog.Logger, gameSvc *game.Service, opts Options) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		log:  logger,
		game: gameSvc,
		opts: opts,
		mux:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if s.opts.Requests != nil {
		r.Use(s.countRequests)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/players/claim", s.handleClaim)
		r.Get("/leaderboard", s.handleLeaderboard)

		r.Group(func(r chi.Router) {
			r.Use(tokenMiddleware)
			r.Get("/players/{key}", s.handlePlayer)
			r.Post("/players/selected-bufficorn/{creationIndex}", s.handleSelectBufficorn)
			r.Get("/trades", s.handleTradeHistory)
			r.With(s.limitTrades).Post("/trades", s.handleTrade)
		})
	})
}

// tokenMiddleware only extracts the credential. Verification belongs to the game service,
// which must check the trade period before the token.
func tokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		ctx := context.WithValue(r.Context(), tokenContextKey, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(tokenContextKey).(string)
	return token
}

func (s *Server) limitTrades(next http.Handler) http.Handler {
	if s.opts.TradeLimiter == nil {
		return next
	}
	return s.opts.TradeLimiter.Middleware(func(r *http.Request) string {
		if key, err := s.game.VerifiedKey(tokenFromContext(r.Context())); err == nil {
			return "player:" + key
		}
		return "ip:" + clientIP(r.RemoteAddr)
	})(next)
}

// clientIP drops the port so every connection from one host shares a bucket.
func clientIP(remoteAddr string) string {
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.opts.Requests.Request(route, fmt.Sprintf("%dxx", status/100))
	})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Key      string `json:"key"`
		Username string `json:"username"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.Claim(r.Context(), in.Key, in.Username)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handlePlayer(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimSpace(chi.URLParam(r, "key"))
	out, err := s.game.PlayerState(r.Context(), tokenFromContext(r.Context()), key)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSelectBufficorn(w http.ResponseWriter, r *http.Request) {
	idx, err := strconv.Atoi(chi.URLParam(r, "creationIndex"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "params/creationIndex should be integer")
		return
	}
	out, err := s.game.SelectBufficorn(r.Context(), tokenFromContext(r.Context()), idx)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request) {
	var in struct {
		To       string `json:"to"`
		Cooldown *int64 `json:"cooldown,omitempty"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(in.To) == "" {
		writeError(w, http.StatusBadRequest, "body must have required property 'to'")
		return
	}
	out, err := s.game.Trade(r.Context(), game.TradeInput{
		Token:    tokenFromContext(r.Context()),
		To:       strings.TrimSpace(in.To),
		Cooldown: in.Cooldown,
	})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTradeHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.game.TradeHistory(r.Context(), tokenFromContext(r.Context()), limit, offset)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePage(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var trait game.Trait
	if v := strings.TrimSpace(r.URL.Query().Get("resource")); v != "" {
		trait, err = game.ParseTrait(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	out, err := s.game.Leaderboard(r.Context(), game.LeaderboardQuery{Trait: trait, Limit: limit, Offset: offset})
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func parsePage(r *http.Request) (int, int, error) {
	q := r.URL.Query()
	limit, offset := 0, 0
	if v := strings.TrimSpace(q.Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, errors.New("querystring/limit should be integer")
		}
		limit = n
	}
	if v := strings.TrimSpace(q.Get("offset")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return 0, 0, errors.New("querystring/offset should be integer")
		}
		offset = n
	}
	return limit, offset, nil
}

func (s *Server) writeDomainError(w http.ResponseWriter, err error) {
	var cooldown *game.CooldownError
	switch {
	case errors.As(err, &cooldown):
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":            err.Error(),
			"remaining_millis": cooldown.Remaining.Milliseconds(),
		})
	case errors.Is(err, game.ErrPeriodClosed), errors.Is(err, game.ErrInvalidToken), errors.Is(err, game.ErrGrowthRejected):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, game.ErrSlotConflict), errors.Is(err, game.ErrUnclaimed), errors.Is(err, game.ErrSelfTrade),
		errors.Is(err, game.ErrAlreadyClaimed), errors.Is(err, game.ErrUsernameTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, game.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message)})
}

// bearerToken accepts "Bearer <token>" or a bare token.
func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 1 {
		return parts[0]
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
