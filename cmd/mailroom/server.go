package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"mailroom/internal/errors"
	"mailroom/internal/middleware"
	"mailroom/internal/models"
	"mailroom/internal/service"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router      *mux.Router
	logger      *logrus.Logger
	cfg         *models.Config
	coordinator *service.IngestionCoordinator
	notifier    *service.NotificationEngine
	deadLetters *service.DeadLetterService
	triage      *service.TriageService
	rateLimiter *rateLimiter
	server      *http.Server
}

func NewServer(
	cfg *models.Config,
	coordinator *service.IngestionCoordinator,
	notifier *service.NotificationEngine,
	deadLetters *service.DeadLetterService,
	triage *service.TriageService,
	logger *logrus.Logger,
) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		logger:      logger,
		cfg:         cfg,
		coordinator: coordinator,
		notifier:    notifier,
		deadLetters: deadLetters,
		triage:      triage,
		rateLimiter: newRateLimiter(cfg.Server.RateLimitPerMin, time.Minute),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Observability(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	// The provider validates the webhook endpoint with a GET echo
	// handshake before it starts pushing events.
	mail := s.router.PathPrefix("/webhook/mail").Subrouter()
	mail.HandleFunc("", s.handleValidationHandshake()).Methods(http.MethodGet)
	mail.HandleFunc("", s.handleMailWebhook()).Methods(http.MethodPost)

	s.router.HandleFunc("/dlq", s.handleListDeadLetters()).Methods(http.MethodGet)
	s.router.HandleFunc("/dlq/{id:[0-9]+}/resolve", s.handleDeadLetterTerminal(models.DeadLetterResolved)).Methods(http.MethodPost)
	s.router.HandleFunc("/dlq/{id:[0-9]+}/ignore", s.handleDeadLetterTerminal(models.DeadLetterIgnored)).Methods(http.MethodPost)

	s.router.HandleFunc("/orders/{id:[0-9]+}/scheduled-sends", s.handleListScheduledSends()).Methods(http.MethodGet)
	s.router.HandleFunc("/orders/{id:[0-9]+}/scheduled-sends", s.handleEnqueueScheduledSend()).Methods(http.MethodPost)
	s.router.HandleFunc("/orders/{id:[0-9]+}/communications", s.handleListCommunications()).Methods(http.MethodGet)

	s.router.HandleFunc("/communications/{id:[0-9]+}/triage", s.handleTriage()).Methods(http.MethodPost)
	s.router.HandleFunc("/filters", s.handleSetSenderFilter()).Methods(http.MethodPost)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.Server.IdleTimeoutSec) * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}
}

// handleValidationHandshake echoes the provider's validation token as
// plain text. The provider only activates the subscription after it
// gets the token back verbatim.
func (s *Server) handleValidationHandshake() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("validationToken")
		if token == "" {
			http.Error(w, "missing validationToken", http.StatusBadRequest)
			return
		}

		s.logger.Debug("Answering webhook validation handshake")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, token)
	}
}

func (s *Server) handleMailWebhook() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.rateLimiter.allow(r) {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		body, err := verifySignature(r, s.cfg.Mail.WebhookSecret, signatureHeader)
		if err != nil {
			s.logger.WithError(err).Warn("Rejected mail webhook")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		var payload models.MailWebhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		if payload.Event != models.EventMessageReceived {
			s.logger.WithField("event", payload.Event).Debug("Ignoring webhook event")
			w.WriteHeader(http.StatusOK)
			return
		}

		result, err := s.coordinator.HandlePushNotification(r.Context(), &payload)
		if err != nil {
			s.writeError(w, err)
			return
		}

		s.writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleListDeadLetters() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := models.DeadLetterStatus(r.URL.Query().Get("status"))
		if status == "" {
			status = models.DeadLetterFailed
		}
		limit := queryInt(r, "limit", 50)

		items, err := s.deadLetters.List(r.Context(), status, limit)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, items)
	}
}

func (s *Server) handleDeadLetterTerminal(status models.DeadLetterStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			http.Error(w, "invalid id", http.StatusBadRequest)
			return
		}

		var req struct {
			Note string `json:"note"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}

		if status == models.DeadLetterResolved {
			err = s.deadLetters.Resolve(r.Context(), id, req.Note)
		} else {
			err = s.deadLetters.Ignore(r.Context(), id, req.Note)
		}
		if err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleListScheduledSends() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := pathID(r, "id")
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		items, err := s.notifier.ListForOrder(r.Context(), orderID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, items)
	}
}

func (s *Server) handleEnqueueScheduledSend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := pathID(r, "id")
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		var req struct {
			SendKind     models.SendKind     `json:"sendKind"`
			ToAddress    string              `json:"toAddress"`
			ScheduledAt  time.Time           `json:"scheduledAt"`
			Precondition models.Precondition `json:"precondition"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		if err := s.notifier.Enqueue(r.Context(), orderID, req.SendKind, req.ToAddress, req.ScheduledAt, req.Precondition); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *Server) handleListCommunications() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		orderID, err := pathID(r, "id")
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		items, err := s.triage.CommunicationsForOrder(r.Context(), orderID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, items)
	}
}

func (s *Server) handleTriage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r, "id")
		if err != nil {
			http.Error(w, "invalid communication id", http.StatusBadRequest)
			return
		}

		var req struct {
			OrderID *int64 `json:"orderId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		if err := s.triage.AssignOrder(r.Context(), id, req.OrderID); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleSetSenderFilter() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Pattern  string `json:"pattern"`
			Category string `json:"category"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}

		category, err := models.ParseCategory(req.Category)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		if err := s.triage.SetSenderFilter(r.Context(), req.Pattern, category); err != nil {
			s.writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := errors.HTTPStatusCode(err)
	if status >= http.StatusInternalServerError {
		s.logger.WithError(err).Error("Request failed")
	}
	http.Error(w, err.Error(), status)
}

func pathID(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)[name], 10, 64)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
