// Package server exposes the subscription endpoints and the authenticated
// trigger endpoints that kick off broadcast and digest cycles on demand.
package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"ensnotify/internal/config"
	"ensnotify/internal/notify"
	"ensnotify/internal/storage"
	"ensnotify/pkg/logx"
)

// Cycler triggers dispatch cycles; implemented by the dispatch service.
type Cycler interface {
	RunBroadcastCycle(ctx context.Context) error
	RunDigestCycle(ctx context.Context) error
}

type Server struct {
	cfg    config.AppConfig
	store  storage.Store
	mail   notify.MailSender
	cycler Cycler
	log    logx.Logger

	httpSrv *http.Server
}

func New(cfg config.AppConfig, store storage.Store, mail notify.MailSender, cycler Cycler, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{cfg: cfg, store: store, mail: mail, cycler: cycler, log: log}
	s.httpSrv = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Post("/subscribe", s.handleSubscribe)
	r.Get("/verify/{token}", s.handleVerify)
	r.Get("/unsubscribe/{token}", s.handleUnsubscribe)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/send-to-platforms", s.handleSendToPlatforms)
		r.Get("/send-emails", s.handleSendEmails)
	})
	return r
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

func (s *Server) Start() error {
	s.log.Info("http server listening", logx.String("addr", s.cfg.Listen))
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Stop(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if s.cfg.AuthToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AuthToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
