package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/buddybot/buddybot/relay/auth"
	"github.com/buddybot/buddybot/util"
)

const maxRequestBodySize = 1 << 20

type ErrorResponse struct {
	Message string `json:"message"`
	Code    int    `json:"code"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// AuthResponse is returned by register and login
type AuthResponse struct {
	Token string         `json:"token"`
	User  *auth.Identity `json:"user,omitempty"`
}

// requestMiddleware enriches the request context with a request id for logging
func requestMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := util.WithLogSource(r.Context(), util.HTTPSource)
		ctx = context.WithValue(ctx, util.RequestIDKey, uuid.New().String())
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, "couldn't parse JSON request", http.StatusBadRequest)
		return
	}

	identity, err := s.accounts.Register(req.Email, req.Username, req.Password)
	switch {
	case errors.Is(err, ErrAccountExists):
		writeErrorResponse(w, err.Error(), http.StatusConflict)
		return
	case errors.Is(err, ErrInvalidEmail), errors.Is(err, ErrWeakPassword), errors.Is(err, ErrMissingUsername):
		writeErrorResponse(w, err.Error(), http.StatusBadRequest)
		return
	case err != nil:
		log.WithContext(r.Context()).Errorf("failed to register account: %s", err)
		writeErrorResponse(w, "Registration failed", http.StatusInternalServerError)
		return
	}

	log.WithContext(r.Context()).WithField("user_id", identity.UserID).Infof("account registered")
	s.writeSession(w, r, http.StatusCreated, identity)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		writeErrorResponse(w, "couldn't parse JSON request", http.StatusBadRequest)
		return
	}

	identity, err := s.accounts.Login(req.Email, req.Password)
	if err != nil {
		log.WithContext(r.Context()).Debugf("login failed: %s", err)
		if s.metrics != nil {
			s.metrics.AuthFailed()
		}
		writeErrorResponse(w, ErrInvalidCredentials.Error(), http.StatusUnauthorized)
		return
	}

	s.writeSession(w, r, http.StatusOK, identity)
}

// handleLogout acknowledges the logout, tokens are stateless and simply dropped by the client
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	writeJSONObject(w, http.StatusOK, struct {
		Success bool `json:"success"`
	}{Success: true})
}

func (s *Server) writeSession(w http.ResponseWriter, r *http.Request, status int, identity *auth.Identity) {
	token, err := s.tokens.Issue(*identity)
	if err != nil {
		log.WithContext(r.Context()).Errorf("failed to issue token: %s", err)
		writeErrorResponse(w, "failed to issue token", http.StatusInternalServerError)
		return
	}
	writeJSONObject(w, status, AuthResponse{Token: token, User: identity})
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// writeJSONObject writes an object to the HTTP response in JSON format
func writeJSONObject(w http.ResponseWriter, status int, obj any) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(obj); err != nil {
		log.Errorf("failed to encode response: %s", err)
	}
}

func writeErrorResponse(w http.ResponseWriter, errMsg string, httpStatus int) {
	writeJSONObject(w, httpStatus, ErrorResponse{Message: errMsg, Code: httpStatus})
}

func hostOf(origin string) string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return origin
	}
	return u.Host
}
