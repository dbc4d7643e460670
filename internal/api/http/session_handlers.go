package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/quizforge/quizforge/internal/quiz"
)

func CreateSessionHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TestID string `json:"test_id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if req.TestID == "" {
			http.Error(w, "test_id required", 400)
			return
		}
		sess, err := svc.StartSession(r.Context(), req.TestID, clientIdentity(r))
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, 201, sess)
	}
}

func GetQuestionHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		index, err := strconv.Atoi(chi.URLParam(r, "index"))
		if err != nil {
			http.Error(w, "bad index", 400)
			return
		}
		q, err := svc.Question(r.Context(), id, index)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, 200, q)
	}
}

func SubmitAnswerHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		var req struct {
			QuestionID   string `json:"question_id"`
			Selected     *int   `json:"selected_answer"`
			TimeSpentSec int    `json:"time_spent_seconds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", 400)
			return
		}
		if req.QuestionID == "" || req.Selected == nil {
			http.Error(w, "question_id and selected_answer required", 400)
			return
		}
		if *req.Selected < 0 || *req.Selected > 3 {
			http.Error(w, "selected_answer out of range", 400)
			return
		}
		sess, err := svc.SubmitAnswer(r.Context(), id, req.QuestionID, *req.Selected, req.TimeSpentSec)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, 200, map[string]interface{}{
			"session_id":    sess.ID,
			"current_index": sess.CurrentIndex,
			"answered":      len(sess.Answers),
			"total":         sess.TotalQuestions,
		})
	}
}

func CompleteSessionHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		sess, res, err := svc.Complete(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, 200, map[string]interface{}{
			"session": sess,
			"results": res,
		})
	}
}

func GetResultsHandler(svc *quiz.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")
		sess, answers, err := svc.Results(r.Context(), id)
		if err != nil {
			writeErr(w, err)
			return
		}
		writeJSON(w, 200, map[string]interface{}{
			"session": sess,
			"answers": answers,
		})
	}
}
