package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"ensnotify/internal/storage"
	"ensnotify/pkg/logx"
)

const mailTaskTimeout = 30 * time.Second

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func formBool(r *http.Request, name string) bool {
	switch strings.ToLower(r.PostFormValue(name)) {
	case "true", "on", "1", "yes":
		return true
	}
	return false
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeMessage(w, http.StatusBadRequest, "Invalid form data.")
		return
	}
	email := strings.TrimSpace(r.PostFormValue("email"))
	if email == "" {
		writeMessage(w, http.StatusOK, "Please enter your email address.")
		return
	}
	onChain := formBool(r, "onChain")
	offChain := formBool(r, "offChain")
	calendar := formBool(r, "calendar")
	if !onChain && !offChain && !calendar {
		writeMessage(w, http.StatusOK, "You should select at least one checkbox.")
		return
	}

	token := uuid.NewString()
	_, err := s.store.CreateSubscriber(r.Context(), storage.Subscriber{
		Email:    email,
		Token:    token,
		OnChain:  onChain,
		OffChain: offChain,
		Calendar: calendar,
	})
	if errors.Is(err, storage.ErrDuplicateEmail) {
		writeMessage(w, http.StatusOK, "Already subscribed.")
		return
	}
	if err != nil {
		s.log.Error("create subscriber failed", logx.Err(err))
		writeMessage(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}

	s.sendInBackground(email, "Verify your email subscription",
		fmt.Sprintf("To confirm your subscription, click this link: %s/verify/%s", s.cfg.PublicURL, token))

	writeMessage(w, http.StatusOK, "Verification email has been sent, don't forget to check spams.")
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	sub, err := s.store.SubscriberByToken(r.Context(), token)
	if errors.Is(err, storage.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "Subscription not found.")
		return
	}
	if err != nil {
		s.log.Error("subscriber lookup failed", logx.Err(err))
		writeMessage(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}

	if sub.Verified {
		// Re-verifying is how subscribers recover a lost unsubscribe link.
		s.sendInBackground(sub.Email, "Email verified.", s.unsubscribeBody(token))
		writeMessage(w, http.StatusOK, "Subscription already verified.")
		return
	}

	if err := s.store.MarkVerified(r.Context(), token); err != nil {
		s.log.Error("verify failed", logx.Err(err))
		writeMessage(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}
	writeMessage(w, http.StatusOK, "Subscription verified.")
}

func (s *Server) unsubscribeBody(token string) string {
	return fmt.Sprintf("Your email is verified. You will receive ENS notifications daily.\n"+
		"If you needed to unsubscribe at any time, here is the link: %s/unsubscribe/%s",
		s.cfg.PublicURL, token)
}

func (s *Server) handleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	err := s.store.DeleteByToken(r.Context(), token)
	if errors.Is(err, storage.ErrNotFound) {
		writeMessage(w, http.StatusNotFound, "Subscription not found or already unsubscribed.")
		return
	}
	if err != nil {
		s.log.Error("unsubscribe failed", logx.Err(err))
		writeMessage(w, http.StatusInternalServerError, "Something went wrong, please try again later.")
		return
	}
	writeMessage(w, http.StatusOK, "Unsubscribed successfully.")
}

func (s *Server) handleSendToPlatforms(w http.ResponseWriter, r *http.Request) {
	if err := s.cycler.RunBroadcastCycle(r.Context()); err != nil {
		s.log.Error("broadcast cycle failed", logx.Err(err))
		writeMessage(w, http.StatusInternalServerError, "broadcast cycle failed")
		return
	}
	writeMessage(w, http.StatusOK, "platform updates have been sent")
}

func (s *Server) handleSendEmails(w http.ResponseWriter, r *http.Request) {
	if err := s.cycler.RunDigestCycle(r.Context()); err != nil {
		s.log.Error("digest cycle failed", logx.Err(err))
		writeMessage(w, http.StatusInternalServerError, "digest cycle failed")
		return
	}
	writeMessage(w, http.StatusOK, "send emails initiated.")
}

// sendInBackground delivers a transactional email without holding up the
// HTTP response.
func (s *Server) sendInBackground(to, subject, body string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mailTaskTimeout)
		defer cancel()
		if err := s.mail.SendMail(ctx, to, subject, body); err != nil {
			s.log.Warn("transactional mail failed",
				logx.String("to", to), logx.String("subject", subject), logx.Err(err))
		}
	}()
}
