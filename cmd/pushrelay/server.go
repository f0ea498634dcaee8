package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"pushrelay/internal/constants"
	apperrors "pushrelay/internal/errors"
	"pushrelay/internal/middleware"
	"pushrelay/internal/models"
	"pushrelay/internal/service"
	"pushrelay/internal/tracing"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

type Server struct {
	router     *mux.Router
	logger     *logrus.Logger
	cfg        *models.Config
	directory  *service.Directory
	queue      *service.Queue
	dispatcher *service.Dispatcher
	server     *http.Server
}

func NewServer(cfg *models.Config, directory *service.Directory, queue *service.Queue, dispatcher *service.Dispatcher, logger *logrus.Logger) *Server {
	s := &Server{
		router:     mux.NewRouter(),
		logger:     logger,
		cfg:        cfg,
		directory:  directory,
		queue:      queue,
		dispatcher: dispatcher,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.ObservabilityMiddleware(s.logger))

	s.router.HandleFunc("/health", s.handleHealth()).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics", s.handleMetrics()).Methods(http.MethodGet)

	s.router.HandleFunc("/register", s.handleRegister()).Methods(http.MethodPost)
	s.router.HandleFunc("/subscriptions", s.handleListSubscriptions()).Methods(http.MethodGet)
	s.router.HandleFunc("/subscribe", s.handleSubscribe()).Methods(http.MethodPost)
	s.router.HandleFunc("/unsubscribe", s.handleUnsubscribe()).Methods(http.MethodPost)
	s.router.HandleFunc("/publish", s.handlePublish()).Methods(http.MethodPost)
	s.router.HandleFunc("/messages", s.handleRecentMessages()).Methods(http.MethodGet)
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  constants.DefaultServerReadTimeoutSec * time.Second,
		WriteTimeout: constants.DefaultServerWriteTimeoutSec * time.Second,
		IdleTimeout:  constants.DefaultServerIdleTimeoutSec * time.Second,
	}

	s.logger.Infof("Starting server on port %d", s.cfg.Server.Port)
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type registerRequest struct {
	Token string `json:"token"`
}

type subscriptionRequest struct {
	Token   string `json:"token"`
	Channel string `json:"channel"`
}

type publishRequest struct {
	Channel        string  `json:"channel"`
	Body           string  `json:"body"`
	CollapseKey    *string `json:"collapse_key,omitempty"`
	DelayWhileIdle bool    `json:"delay_while_idle,omitempty"`
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":             "ok",
			"dispatcher_running": s.dispatcher.IsRunning(),
			"backoff_seconds":    s.dispatcher.BackoffSeconds(),
		})
	}
}

func (s *Server) handleRegister() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
			return
		}

		user, err := s.directory.RegisterDevice(r.Context(), req.Token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"user_id": user.ID,
		})
	}
}

func (s *Server) handleListSubscriptions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			s.writeError(w, r, apperrors.NewMissingParameterError("token"))
			return
		}

		channels, err := s.directory.ListSubscriptions(r.Context(), token)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if channels == nil {
			channels = []string{}
		}

		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"channels": channels,
		})
	}
}

func (s *Server) handleSubscribe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req subscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
			return
		}

		created, err := s.directory.Subscribe(r.Context(), req.Token, req.Channel)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"created": created,
		})
	}
}

func (s *Server) handleUnsubscribe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req subscriptionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
			return
		}

		if err := s.directory.Unsubscribe(r.Context(), req.Token, req.Channel); err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"unsubscribed": true,
		})
	}
}

func (s *Server) handlePublish() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req publishRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "invalid request body"))
			return
		}

		receipt, err := s.queue.Publish(r.Context(), req.Channel, req.Body, req.CollapseKey, req.DelayWhileIdle)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"message_id":      receipt.MessageID,
			"recipient_count": receipt.RecipientCount,
		})
	}
}

func (s *Server) handleRecentMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel := r.URL.Query().Get("channel")
		if channel == "" {
			s.writeError(w, r, apperrors.NewMissingParameterError("channel"))
			return
		}

		limit := constants.DefaultRecentMessagesLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				s.writeError(w, r, apperrors.New(apperrors.ErrCodeInvalidInput, "limit must be a positive integer"))
				return
			}
			limit = parsed
		}

		messages, err := s.queue.RecentMessages(r.Context(), channel, limit)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if messages == nil {
			messages = []models.RecentMessage{}
		}

		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"messages": messages,
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := tracing.GetRequestID(r.Context())
	status := apperrors.HTTPStatusCode(err)

	s.logger.WithFields(logrus.Fields{
		service.LogFieldRequestID:  requestID,
		service.LogFieldURL:        r.URL.Path,
		service.LogFieldStatusCode: status,
	}).WithError(err).Warn("Request failed")

	s.writeJSON(w, status, apperrors.ToHTTPResponse(err, requestID))
}
