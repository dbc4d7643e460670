package http

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quizforge/quizforge/internal/cache"
	"github.com/quizforge/quizforge/internal/quiz"
)

func ListTestsHandler(tests *cache.Tests) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]interface{}{"tests": tests.List()})
	}
}

// GetTestHandler returns test metadata. Question bodies and answer keys
// stay server-side; clients see them one at a time through a session.
func GetTestHandler(tests *cache.Tests) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "testID")
		t, ok := tests.Get(id)
		if !ok {
			http.Error(w, "test not found", 404)
			return
		}
		writeJSON(w, 200, map[string]interface{}{
			"test_id":            t.ID,
			"title":              t.Title,
			"description":        t.Description,
			"category":           t.Category,
			"difficulty":         t.Difficulty,
			"estimated_duration": t.EstimatedDurationMin,
			"passing_grade":      t.PassingGrade,
			"num_questions":      len(t.Questions),
		})
	}
}

func CategoriesHandler(store quiz.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cats, err := store.Categories(r.Context())
		if err != nil {
			writeErr(w, err)
			return
		}
		if cats == nil {
			cats = []string{}
		}
		writeJSON(w, 200, map[string]interface{}{"categories": cats})
	}
}

func TestConfigHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cfg, err := svc.TestConfig(r.Context(), clientIdentity(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, 200, cfg)
	}
}

func GenerateTestHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req quiz.GenerateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		test, sess, err := svc.GenerateTest(r.Context(), req, clientIdentity(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, 201, map[string]interface{}{
			"test_id":            test.ID,
			"title":              test.Title,
			"num_questions":      len(test.Questions),
			"estimated_duration": test.EstimatedDurationMin,
			"passing_grade":      test.PassingGrade,
			"session_id":         sess.ID,
		})
	}
}
