package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"choreboard/internal/handler"
	"choreboard/internal/middleware"
	"choreboard/internal/store"
	ws "choreboard/internal/websocket"
)

type Server struct {
	db          *sql.DB
	hub         *ws.Hub
	familyH     *handler.FamilyHandler
	memberH     *handler.MemberHandler
	templateH   *handler.TemplateHandler
	instanceH   *handler.InstanceHandler
	ledgerH     *handler.LedgerHandler
	memberStore *store.MemberStore
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

func New(db *sql.DB, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "websocket"))

	familyStore := store.NewFamilyStore(db)
	memberStore := store.NewMemberStore(db)
	templateStore := store.NewTemplateStore(db)
	instanceStore := store.NewInstanceStore(db)
	ledgerStore := store.NewLedgerStore(db)

	return &Server{
		db:          db,
		hub:         hub,
		familyH:     handler.NewFamilyHandler(familyStore, memberStore, templateStore, instanceStore, ledgerStore, logger),
		memberH:     handler.NewMemberHandler(memberStore, hub, logger),
		templateH:   handler.NewTemplateHandler(templateStore, hub, logger),
		instanceH:   handler.NewInstanceHandler(instanceStore, templateStore, memberStore, hub, logger),
		ledgerH:     handler.NewLedgerHandler(ledgerStore, memberStore, hub, logger),
		memberStore: memberStore,
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// Hub returns the broadcast hub so background passes can publish canonical
// changes.
func (s *Server) Hub() *ws.Hub {
	return s.hub
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes (no actor header required)
	outerMux.HandleFunc("GET /health", s.healthHandler)
	outerMux.HandleFunc("POST /api/families", s.familyH.Create)
	outerMux.Handle("GET /ws/{familyID}", ws.HandleWebSocket(s.hub))

	// PIN verification is public so a locked device can identify its user,
	// but rate limited to slow down guessing.
	outerMux.HandleFunc("POST /api/members/{id}/pin/verify", s.rateLimitedHandler(s.memberH.VerifyPIN))

	// Everything else requires an actor
	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	actorMiddleware := middleware.ActorAuth(s.memberStore)
	outerMux.Handle("/", actorMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimitedHandler(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Family snapshot
	mux.HandleFunc("GET /api/families/{familyID}", s.familyH.Snapshot)

	// Member API routes
	mux.HandleFunc("GET /api/members", s.memberH.List)
	mux.HandleFunc("POST /api/members", s.memberH.Create)
	mux.HandleFunc("PUT /api/members/{id}", s.memberH.Update)

	// PIN routes (guardian-managed)
	mux.Handle("POST /api/members/{id}/pin", middleware.RequireGuardian(http.HandlerFunc(s.memberH.SetPIN)))
	mux.Handle("DELETE /api/members/{id}/pin", middleware.RequireGuardian(http.HandlerFunc(s.memberH.ClearPIN)))

	// Template API routes
	mux.HandleFunc("GET /api/templates", s.templateH.List)
	mux.Handle("POST /api/templates", middleware.RequireGuardian(http.HandlerFunc(s.templateH.Create)))
	mux.Handle("PUT /api/templates/{id}", middleware.RequireGuardian(http.HandlerFunc(s.templateH.Update)))
	mux.Handle("POST /api/templates/{id}/archive", middleware.RequireGuardian(http.HandlerFunc(s.templateH.Archive)))

	// Instance API routes
	mux.HandleFunc("GET /api/instances", s.instanceH.List)
	mux.HandleFunc("POST /api/instances", s.instanceH.Create)
	mux.HandleFunc("POST /api/instances/{id}/status", s.instanceH.UpdateStatus)

	// Ledger API routes
	mux.HandleFunc("GET /api/ledger", s.ledgerH.List)
	mux.HandleFunc("POST /api/ledger", s.ledgerH.Append)
}
