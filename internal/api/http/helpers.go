package http

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/quizforge/quizforge/internal/quiz"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeErr maps the domain error taxonomy onto HTTP statuses. Anything
// unrecognized is a 500.
func writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, quiz.ErrNotFound):
		http.Error(w, err.Error(), 404)
	case errors.Is(err, quiz.ErrInvalidCriteria), errors.Is(err, quiz.ErrNoQuestions):
		http.Error(w, err.Error(), 400)
	case errors.Is(err, quiz.ErrAlreadyFinalized):
		http.Error(w, err.Error(), 409)
	default:
		http.Error(w, "internal error", 500)
	}
}

// clientIdentity derives the usage-tracking identity from the request.
// middleware.RealIP already folds X-Forwarded-For / X-Real-IP into
// RemoteAddr; an unparseable address falls back to the shared anonymous
// identity.
func clientIdentity(r *http.Request) string {
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return quiz.AnonymousIdentity
	}
	return host
}
