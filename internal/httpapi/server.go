// Package httpapi wires the HTTP surface of the reconciliation engine.
// It keeps handlers thin, delegating business rules to the service layer.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/tinoosan/reconcile/internal/ledger"
	"github.com/tinoosan/reconcile/internal/service/balance"
	"github.com/tinoosan/reconcile/internal/service/importer"
	"github.com/tinoosan/reconcile/internal/service/link"
	"github.com/tinoosan/reconcile/internal/service/recurring"
)

// Store is the full storage surface the API needs; both the memory and
// postgres stores satisfy it.
type Store interface {
	recurring.Repo
	recurring.Writer
	link.Repo
	link.Writer
	balance.Repo
	balance.Writer
	importer.Repo
	importer.Writer
	AccountsByUserID(ctx context.Context, userID uuid.UUID) ([]ledger.Account, error)
}

// ReadyChecker reports whether the backing store can serve traffic.
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// Server wires handlers and middleware using Chi.
type Server struct {
	recurringSvc recurring.Service
	linkSvc      link.Service
	balanceSvc   balance.Service
	importerSvc  importer.Service
	store        Store
	ready        ReadyChecker
	log          *slog.Logger
	rt           *chi.Mux
}

// New constructs the HTTP server with routes and middleware. ready may be nil
// when the store has no external dependency to probe.
func New(store Store, ready ReadyChecker, cfg recurring.Config, logger *slog.Logger) *Server {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))
	r.Use(metricsMiddleware)

	s := &Server{
		recurringSvc: recurring.New(store, store, cfg),
		linkSvc:      link.New(store, store),
		balanceSvc:   balance.New(store, store, logger),
		importerSvc:  importer.New(store, store),
		store:        store,
		ready:        ready,
		log:          logger,
		rt:           r,
	}
	s.routes()
	return s
}

// Handler exposes the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.rt }

// routes declares the public HTTP API endpoints.
func (s *Server) routes() {
	// Imports
	s.rt.Post("/v1/imports", s.postImport)
	// Recurring definitions
	s.rt.Post("/v1/recurring/detect", s.postDetect)
	s.rt.Post("/v1/recurring/accept", s.postAcceptDetection)
	s.rt.Post("/v1/recurring", s.postDefinition)
	s.rt.Get("/v1/recurring", s.listDefinitions)
	s.rt.Delete("/v1/recurring/{id}", s.deactivateDefinition)
	s.rt.Post("/v1/recurring/{id}/match", s.postMatch)
	// Link groups
	s.rt.Post("/v1/links", s.postGroup)
	s.rt.Post("/v1/links/bulk", s.postBulkLink)
	s.rt.Post("/v1/links/{groupID}/members", s.postMember)
	s.rt.Delete("/v1/links/members/{transactionID}", s.deleteMember)
	s.rt.Delete("/v1/links/{groupID}", s.deleteGroup)
	s.rt.Get("/v1/links/by-transaction/{id}", s.getGroupByTransaction)
	// Accounts and transactions
	s.rt.Get("/v1/accounts", s.listAccounts)
	s.rt.Get("/v1/accounts/{id}/balance", s.getAccountBalance)
	s.rt.Get("/v1/transactions", s.listTransactions)
	// Health and metrics (unversioned)
	s.rt.Get("/healthz", s.healthz)
	s.rt.Get("/readyz", s.readyz)
	s.rt.Method(http.MethodGet, "/metrics", metricsHandler())
}
