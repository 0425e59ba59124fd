package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"giftpool/internal/app"
	"giftpool/internal/ratelimit"
	"giftpool/internal/util"
	"giftpool/pkg/domain"
	"giftpool/pkg/modelgen"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App           *app.App
	RedisAddr     string
	RedisPassword string

	AllowedOrigins    []string
	TrustedProxyCIDRs []string

	UsersRateLimitPerMinute    int
	GenerateRateLimitPerMinute int
	WrapRateLimitPerMinute     int
	ClaimRateLimitPerMinute    int
	CleanupRateLimitPerMinute  int
}

// Server exposes HTTP endpoints for the gift backend.
type Server struct {
	app            *app.App
	mux            *http.ServeMux
	allowedOrigins []string
	trustedProxies *util.TrustedProxies

	usersLimiter    *ratelimit.FixedWindowLimiter
	generateLimiter *ratelimit.FixedWindowLimiter
	wrapLimiter     *ratelimit.FixedWindowLimiter
	claimLimiter    *ratelimit.FixedWindowLimiter
	cleanupLimiter  *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}
	rateWindow := time.Minute
	newLimiter := func(name string, limit, fallback int) (*ratelimit.FixedWindowLimiter, error) {
		if limit <= 0 {
			limit = fallback
		}
		prefix := "giftpool:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, rateWindow)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	usersLimiter, err := newLimiter("users", cfg.UsersRateLimitPerMinute, 30)
	if err != nil {
		return nil, err
	}
	generateLimiter, err := newLimiter("generate", cfg.GenerateRateLimitPerMinute, 10)
	if err != nil {
		return nil, err
	}
	wrapLimiter, err := newLimiter("wrap", cfg.WrapRateLimitPerMinute, 30)
	if err != nil {
		return nil, err
	}
	claimLimiter, err := newLimiter("claim", cfg.ClaimRateLimitPerMinute, 30)
	if err != nil {
		return nil, err
	}
	cleanupLimiter, err := newLimiter("cleanup", cfg.CleanupRateLimitPerMinute, 30)
	if err != nil {
		return nil, err
	}
	s := &Server{
		app:             cfg.App,
		mux:             http.NewServeMux(),
		allowedOrigins:  cfg.AllowedOrigins,
		trustedProxies:  trusted,
		usersLimiter:    usersLimiter,
		generateLimiter: generateLimiter,
		wrapLimiter:     wrapLimiter,
		claimLimiter:    claimLimiter,
		cleanupLimiter:  cleanupLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithRequestID(
		util.WithRequestLog("giftpool",
			util.WithSecurityHeaders(
				util.WithCORS(s.allowedOrigins, s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// users
	s.mux.HandleFunc("/api/users", s.handleUsers)
	s.mux.HandleFunc("/api/users/", s.handleUserByID)

	// generation & staged-model cleanup
	s.mux.HandleFunc("/api/generate", s.handleGenerate)
	s.mux.HandleFunc("/api/cleanup", s.handleCleanup)

	// gifts
	s.mux.HandleFunc("/api/gifts/wrap", s.handleWrap)
	s.mux.HandleFunc("/api/gifts/pool", s.handlePool)
	s.mux.HandleFunc("/api/gifts/claim", s.handleClaim)
	s.mux.HandleFunc("/api/gifts/created/", s.handleCreated)
	s.mux.HandleFunc("/api/gifts/received/", s.handleReceived)
	s.mux.HandleFunc("/api/gifts/", s.handleGiftByID)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"generatorConfigured": s.app.GeneratorConfigured(),
	})
}

// request/response bodies

type userRequest struct {
	Email string `json:"email"`
}

type generateRequest struct {
	Prompt           string `json:"prompt"`
	UserID           string `json:"userId"`
	Seed             int    `json:"seed"`
	TextureSize      int    `json:"textureSize"`
	DecimationTarget int    `json:"decimationTarget"`
}

type generateResponse struct {
	Success  bool   `json:"success"`
	ModelURL string `json:"modelUrl"`
	Format   string `json:"format"`
	Message  string `json:"message,omitempty"`
}

type wrapRequest struct {
	UserID   string              `json:"userId"`
	Name     string              `json:"name"`
	Prompt   string              `json:"prompt"`
	ModelURL string              `json:"modelUrl"`
	Objects  []domain.GiftObject `json:"objects"`
}

type claimRequest struct {
	UserID string `json:"userId"`
	GiftID string `json:"giftId"`
}

type cleanupRequest struct {
	URL string `json:"url"`
}

// handlers

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.usersLimiter, "too many requests") {
		return
	}
	var req userRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := s.app.CreateOrGetUser(req.Email)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/users/")
	user, err := s.app.GetUser(id)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.generateLimiter, "too many generation requests") {
		return
	}
	var req generateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.app.Generate(r.Context(), app.GenerateParams{
		Prompt:           req.Prompt,
		UserID:           req.UserID,
		Seed:             req.Seed,
		TextureSize:      req.TextureSize,
		DecimationTarget: req.DecimationTarget,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, generateResponse{
		Success:  true,
		ModelURL: res.ModelURL,
		Format:   res.Format,
		Message:  res.Message,
	})
}

func (s *Server) handleCleanup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.cleanupLimiter, "too many cleanup requests") {
		return
	}
	var req cleanupRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.CleanupModel(r.Context(), req.URL); err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleWrap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.wrapLimiter, "too many wrap requests") {
		return
	}
	var req wrapRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	gift, err := s.app.WrapGift(app.WrapParams{
		UserID:   req.UserID,
		Name:     req.Name,
		Prompt:   req.Prompt,
		ModelURL: req.ModelURL,
		Objects:  req.Objects,
	})
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, gift)
}

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
	gift, ok, err := s.app.DrawGift(userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	if !ok {
		// An empty pool is a normal outcome; the body is JSON null.
		writeJSON(w, http.StatusOK, nil)
		return
	}
	writeJSON(w, http.StatusOK, gift)
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if !s.allowRate(w, r, s.claimLimiter, "too many claim requests") {
		return
	}
	var req claimRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	gift, err := s.app.ClaimGift(req.GiftID, req.UserID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gift)
}

func (s *Server) handleCreated(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/api/gifts/created/")
	gifts, err := s.app.ListCreated(userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gifts)
}

func (s *Server) handleReceived(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/api/gifts/received/")
	gifts, err := s.app.ListReceived(userID)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gifts)
}

// handleGiftByID serves GET /api/gifts/{id} and POST /api/gifts/{id}/open.
func (s *Server) handleGiftByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/gifts/")
	if giftID, ok := strings.CutSuffix(rest, "/open"); ok {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}
		userID := strings.TrimSpace(r.URL.Query().Get("user_id"))
		gift, err := s.app.OpenGift(giftID, userID)
		if err != nil {
			writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, gift)
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	gift, err := s.app.GetGift(rest)
	if err != nil {
		writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, gift)
}

// helpers

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps lifecycle errors onto HTTP statuses. Conflict (claim
// race lost) stays distinguishable from collaborator failures so clients can
// show "someone else got it first" instead of a generic error.
func writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case app.IsValidation(err), errors.Is(err, app.ErrSelfClaim):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, app.ErrGiftUnavailable):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrGiftNotFound),
		errors.Is(err, app.ErrUserNotFound),
		errors.Is(err, app.ErrNotRecipient):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, modelgen.ErrTimedOut):
		writeError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, modelgen.ErrUnreachable):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusServiceUnavailable, "service unavailable")
	}
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	if limiter.Allow(util.ClientIP(r, s.trustedProxies)) {
		return true
	}
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
