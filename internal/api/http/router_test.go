package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/quizforge/quizforge/internal/auth"
	"github.com/quizforge/quizforge/internal/cache"
	"github.com/quizforge/quizforge/internal/logging"
	"github.com/quizforge/quizforge/internal/quiz"
	"github.com/quizforge/quizforge/internal/storage"
)

func testRouter(t *testing.T) (http.Handler, *quiz.MemoryStore) {
	t.Helper()
	store := quiz.NewMemoryStore()

	b := quiz.Bank{ID: "bank_api", Title: "API"}
	for i := 0; i < 6; i++ {
		b.Questions = append(b.Questions, quiz.Question{
			ID:            fmt.Sprintf("api_q%d", i+1),
			Text:          fmt.Sprintf("question %d", i+1),
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: 1,
			Difficulty:    quiz.DifficultyMedium,
			Category:      "general",
			Points:        1,
		})
	}
	_, err := store.LoadBank(context.Background(), b)
	require.NoError(t, err)

	tests := cache.NewTests()
	tests.Replace([]quiz.Test{{
		ID: "static_1", Title: "Static", PassingGrade: 70,
		Questions: b.Questions[:3],
	}})

	blobs, err := storage.NewFSStore(t.TempDir())
	require.NoError(t, err)

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	svc := quiz.NewService(store, tests, 70, logging.Nop())
	r := NewRouter(RouterDeps{
		Store:         store,
		Service:       svc,
		Tests:         tests,
		Auth:          auth.NewAuthService("test-secret"),
		Blobs:         blobs,
		Log:           logging.Nop(),
		CORSOrigins:   []string{"http://localhost:3000"},
		AdminUser:     "admin",
		AdminPassHash: string(hash),
	})
	return r, store
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}, token string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestHealthEndpoints(t *testing.T) {
	r, _ := testRouter(t)
	assert.Equal(t, 200, doJSON(t, r, "GET", "/healthz", nil, "").Code)
	assert.Equal(t, 200, doJSON(t, r, "GET", "/readyz", nil, "").Code)
}

func TestPublicTestEndpoints(t *testing.T) {
	r, _ := testRouter(t)

	rec := doJSON(t, r, "GET", "/api/tests", nil, "")
	require.Equal(t, 200, rec.Code)
	body := decode(t, rec)
	assert.Len(t, body["tests"], 1)

	rec = doJSON(t, r, "GET", "/api/tests/static_1", nil, "")
	require.Equal(t, 200, rec.Code)
	meta := decode(t, rec)
	assert.Equal(t, float64(3), meta["num_questions"])
	// The answer key never appears in metadata.
	assert.NotContains(t, rec.Body.String(), "correct_answer")

	assert.Equal(t, 404, doJSON(t, r, "GET", "/api/tests/missing", nil, "").Code)

	rec = doJSON(t, r, "GET", "/api/categories", nil, "")
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "general")

	rec = doJSON(t, r, "GET", "/api/test-config", nil, "")
	require.Equal(t, 200, rec.Code)
	cfg := decode(t, rec)
	assert.Equal(t, float64(6), cfg["total_questions"])
}

func TestGenerateAndRunSession(t *testing.T) {
	r, _ := testRouter(t)

	rec := doJSON(t, r, "POST", "/api/generate-test", map[string]interface{}{
		"test_type":     "random",
		"num_questions": 5,
	}, "")
	require.Equal(t, 201, rec.Code)
	gen := decode(t, rec)
	sessionID := gen["session_id"].(string)
	require.NotEmpty(t, sessionID)

	// Walk the questions and answer them all with option 1 (always correct
	// in this fixture).
	total := int(gen["num_questions"].(float64))
	for i := 0; i < total; i++ {
		qrec := doJSON(t, r, "GET", fmt.Sprintf("/api/sessions/%s/question/%d", sessionID, i), nil, "")
		require.Equal(t, 200, qrec.Code)
		q := decode(t, qrec)
		assert.NotContains(t, qrec.Body.String(), "correct_answer")

		arec := doJSON(t, r, "POST", "/api/sessions/"+sessionID+"/answers", map[string]interface{}{
			"question_id":        q["question_id"],
			"selected_answer":    1,
			"time_spent_seconds": 3,
		}, "")
		require.Equal(t, 200, arec.Code)
	}

	rec = doJSON(t, r, "POST", "/api/sessions/"+sessionID+"/complete", nil, "")
	require.Equal(t, 200, rec.Code)
	out := decode(t, rec)
	results := out["results"].(map[string]interface{})
	assert.Equal(t, float64(100), results["percentage"])
	assert.Equal(t, true, results["passed"])

	// Terminal: second complete conflicts, results endpoint works.
	assert.Equal(t, 409, doJSON(t, r, "POST", "/api/sessions/"+sessionID+"/complete", nil, "").Code)
	assert.Equal(t, 200, doJSON(t, r, "GET", "/api/sessions/"+sessionID+"/results", nil, "").Code)

	rec = doJSON(t, r, "GET", "/api/stats", nil, "")
	require.Equal(t, 200, rec.Code)
	stats := decode(t, rec)
	assert.Equal(t, float64(1), stats["total_sessions_completed"])
}

func TestGenerateTestValidation(t *testing.T) {
	r, _ := testRouter(t)

	assert.Equal(t, 400, doJSON(t, r, "POST", "/api/generate-test", map[string]interface{}{
		"test_type": "random", "num_questions": 3,
	}, "").Code)

	assert.Equal(t, 400, doJSON(t, r, "POST", "/api/generate-test", map[string]interface{}{
		"test_type": "category", "num_questions": 5, "categories": []string{"absent"},
	}, "").Code)

	assert.Equal(t, 404, doJSON(t, r, "POST", "/api/sessions", map[string]interface{}{
		"test_id": "missing",
	}, "").Code)
}

func TestSubmitAnswerValidation(t *testing.T) {
	r, _ := testRouter(t)

	rec := doJSON(t, r, "POST", "/api/sessions", map[string]interface{}{"test_id": "static_1"}, "")
	require.Equal(t, 201, rec.Code)
	sess := decode(t, rec)
	id := sess["session_id"].(string)

	assert.Equal(t, 400, doJSON(t, r, "POST", "/api/sessions/"+id+"/answers",
		map[string]interface{}{"question_id": "api_q1"}, "").Code)
	assert.Equal(t, 400, doJSON(t, r, "POST", "/api/sessions/"+id+"/answers",
		map[string]interface{}{"question_id": "api_q1", "selected_answer": 9}, "").Code)
	assert.Equal(t, 404, doJSON(t, r, "POST", "/api/sessions/"+id+"/answers",
		map[string]interface{}{"question_id": "not_there", "selected_answer": 0}, "").Code)
}

func adminToken(t *testing.T, r http.Handler) string {
	t.Helper()
	rec := doJSON(t, r, "POST", "/auth/login", map[string]string{
		"username": "admin", "password": "hunter2",
	}, "")
	require.Equal(t, 200, rec.Code)
	return decode(t, rec)["access_token"].(string)
}

func TestAdminAuthz(t *testing.T) {
	r, _ := testRouter(t)

	// No token.
	assert.Equal(t, 401, doJSON(t, r, "GET", "/admin/banks", nil, "").Code)

	tok := adminToken(t, r)
	rec := doJSON(t, r, "GET", "/admin/banks", nil, tok)
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "bank_api")

	rec = doJSON(t, r, "GET", "/admin/sessions?limit=10", nil, tok)
	assert.Equal(t, 200, rec.Code)

	// A non-admin role fails rbac even with a valid token.
	other, err := auth.NewAuthService("test-secret").IssueJWT("bob", "viewer")
	require.NoError(t, err)
	assert.Equal(t, 403, doJSON(t, r, "GET", "/admin/banks", nil, other).Code)
}

func TestAdminBankUploadAndDelete(t *testing.T) {
	r, _ := testRouter(t)
	tok := adminToken(t, r)

	doc := `{"bank_id":"bank_up","title":"Up","questions":[
	  {"question":"u1","options":["a","b","c","d"],"correct_answer":0}
	]}`
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "bank_up.json")
	require.NoError(t, err)
	_, err = fw.Write([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/admin/banks", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, 201, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "bank_up", out["bank_id"])
	assert.Equal(t, float64(1), out["questions_loaded"])

	rec2 := doJSON(t, r, "DELETE", "/admin/banks/bank_up", nil, tok)
	assert.Equal(t, 200, rec2.Code)
	assert.Equal(t, 404, doJSON(t, r, "DELETE", "/admin/banks/bank_up", nil, tok).Code)
}
