package quiz

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizforge/quizforge/internal/db"
	"github.com/quizforge/quizforge/internal/grading"
)

var memDBSeq int

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	memDBSeq++
	dsn := fmt.Sprintf("file:storetest%d?mode=memory&cache=shared", memDBSeq)
	dbh, err := db.Open(context.Background(), db.DriverSQLite, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { dbh.Close() })
	return NewSQLStore(dbh, "sqlite")
}

func testBank(id string, n int) Bank {
	b := Bank{ID: id, Title: id, FilePath: "/tmp/" + id + ".json"}
	for i := 0; i < n; i++ {
		b.Questions = append(b.Questions, Question{
			ID:            fmt.Sprintf("%s_q%d", id, i+1),
			BankID:        id,
			Text:          fmt.Sprintf("question %d", i+1),
			Options:       []string{"a", "b", "c", "d"},
			CorrectAnswer: i % 4,
			Difficulty:    DifficultyMedium,
			Category:      "general",
			Points:        1,
		})
	}
	return b
}

func TestLoadBankIdempotence(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	n, err := s.LoadBank(ctx, testBank("bank_a", 3))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Same question count: skipped entirely.
	n, err = s.LoadBank(ctx, testBank("bank_a", 3))
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// Changed count: full reload.
	n, err = s.LoadBank(ctx, testBank("bank_a", 5))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	st, err := s.PoolStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, st.TotalQuestions)
	assert.Equal(t, 1, st.TotalBanks)
}

func TestLoadBankCrossBankIDUpdatesInPlace(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	_, err := s.LoadBank(ctx, testBank("bank_a", 2))
	require.NoError(t, err)

	// bank_b claims one of bank_a's question IDs.
	b := testBank("bank_b", 1)
	b.Questions[0].ID = "bank_a_q1"
	b.Questions[0].Text = "replaced text"
	_, err = s.LoadBank(ctx, b)
	require.NoError(t, err)

	qs, err := s.GetQuestions(ctx, []string{"bank_a_q1"})
	require.NoError(t, err)
	require.Len(t, qs, 1)
	assert.Equal(t, "bank_b", qs[0].BankID)
	assert.Equal(t, "replaced text", qs[0].Text)
}

func TestDeleteBank(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	_, err := s.LoadBank(ctx, testBank("bank_a", 2))
	require.NoError(t, err)

	path, err := s.DeleteBank(ctx, "bank_a")
	require.NoError(t, err)
	assert.Equal(t, "/tmp/bank_a.json", path)

	st, err := s.PoolStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, st.TotalQuestions)

	_, err = s.DeleteBank(ctx, "bank_a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSelectQuestionsFilters(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	b := Bank{ID: "bank_f", Title: "f"}
	add := func(id, cat string, diff Difficulty, kws ...string) {
		b.Questions = append(b.Questions, Question{
			ID: id, Text: id, Options: []string{"a", "b", "c", "d"},
			Category: cat, Difficulty: diff, Keywords: kws, Points: 1,
		})
	}
	add("f1", "math", DifficultyEasy, "algebra")
	add("f2", "math", DifficultyHard, "calculus")
	add("f3", "history", DifficultyEasy, "rome")
	_, err := s.LoadBank(ctx, b)
	require.NoError(t, err)

	got, err := s.SelectQuestions(ctx, Criteria{Categories: []string{"math"}}, "", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.SelectQuestions(ctx, Criteria{Difficulty: DifficultyEasy}, "", 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// "mixed" is not a filter.
	got, err = s.SelectQuestions(ctx, Criteria{Difficulty: DifficultyMixed}, "", 10)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = s.SelectQuestions(ctx, Criteria{Keyword: "calc"}, "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "f2", got[0].ID)

	got, err = s.SelectQuestions(ctx, Criteria{ExcludeIDs: []string{"f1", "f2"}}, "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "f3", got[0].ID)

	// Starvation: short result, not an error.
	got, err = s.SelectQuestions(ctx, Criteria{Categories: []string{"math"}}, "", 50)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.SelectQuestions(ctx, Criteria{}, "", 0)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestGetQuestionsPreservesOrder(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()
	_, err := s.LoadBank(ctx, testBank("bank_o", 4))
	require.NoError(t, err)

	ids := []string{"bank_o_q3", "bank_o_q1", "missing", "bank_o_q4"}
	got, err := s.GetQuestions(ctx, ids)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "bank_o_q3", got[0].ID)
	assert.Equal(t, "bank_o_q1", got[1].ID)
	assert.Equal(t, "bank_o_q4", got[2].ID)
}

func finalizeSession(t *testing.T, s *SQLStore, sessID string, qs []Question, answers map[string]SubmittedAnswer) grading.Results {
	t.Helper()
	ctx := context.Background()
	res := grading.Grade(GradingView(qs), Submissions(answers), grading.Options{
		StartedAt:   time.Now().Add(-time.Minute),
		CompletedAt: time.Now(),
	})
	_, err := s.FinalizeSession(ctx, sessID, &res)
	require.NoError(t, err)
	return res
}

func startSession(t *testing.T, s *SQLStore, id, testID string, qs []Question) {
	t.Helper()
	ids := make([]string, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}
	require.NoError(t, s.CreateSession(context.Background(), Session{
		ID: id, TestID: testID, TestTitle: "T", Identity: "alice",
		Status: StatusActive, StartedAt: time.Now(), TotalQuestions: len(qs),
		QuestionIDs: ids,
	}))
}

func TestFinalizeSessionLifecycle(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	bank := testBank("bank_s", 2)
	_, err := s.LoadBank(ctx, bank)
	require.NoError(t, err)
	qs := bank.Questions

	startSession(t, s, "sess1", "test_x", qs)

	answers := map[string]SubmittedAnswer{
		qs[0].ID: {Selected: qs[0].CorrectAnswer, TimeSpentSec: 8},
		qs[1].ID: {Selected: (qs[1].CorrectAnswer + 1) % 4, TimeSpentSec: 12},
	}
	require.NoError(t, s.SaveProgress(ctx, "sess1", 2, answers))

	res := finalizeSession(t, s, "sess1", qs, answers)

	sess, err := s.GetSession(ctx, "sess1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, sess.Status)
	assert.Equal(t, 1, sess.CorrectAnswers)
	assert.Equal(t, 50.0, sess.ScorePercentage)
	require.NotNil(t, sess.CompletedAt)

	// Answer rows carry the grading detail.
	rows, err := s.SessionAnswers(ctx, "sess1")
	require.NoError(t, err)
	require.Len(t, rows, 2)

	// Usage counters moved for the session's identity.
	failed, err := s.SelectFailed(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, qs[1].ID, failed[0].ID)

	// Finalize left one history event behind.
	var events int
	require.NoError(t, s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_log WHERE key=$1`, "sess1").Scan(&events))
	assert.Equal(t, 1, events)

	// Repeat finalize loses the CAS.
	_, err = s.FinalizeSession(ctx, "sess1", &res)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	// Progress writes are refused after completion.
	err = s.SaveProgress(ctx, "sess1", 0, nil)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
}

func TestFinalizeAntiRepetitionOrdering(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	bank := testBank("bank_r", 3)
	_, err := s.LoadBank(ctx, bank)
	require.NoError(t, err)
	qs := bank.Questions

	// alice has seen q1 and q2; q3 is fresh.
	startSession(t, s, "sess_r", "test_x", qs[:2])
	finalizeSession(t, s, "sess_r", qs[:2], map[string]SubmittedAnswer{
		qs[0].ID: {Selected: qs[0].CorrectAnswer},
		qs[1].ID: {Selected: qs[1].CorrectAnswer},
	})

	got, err := s.SelectQuestions(ctx, Criteria{}, "alice", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, qs[2].ID, got[0].ID)

	// A different identity has no history, everything ranks equal.
	got, err = s.SelectQuestions(ctx, Criteria{}, "bob", 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestTestStatsRollup(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	bank := testBank("bank_t", 2)
	_, err := s.LoadBank(ctx, bank)
	require.NoError(t, err)
	qs := bank.Questions

	// First run: 100%.
	startSession(t, s, "st1", "test_y", qs)
	finalizeSession(t, s, "st1", qs, map[string]SubmittedAnswer{
		qs[0].ID: {Selected: qs[0].CorrectAnswer},
		qs[1].ID: {Selected: qs[1].CorrectAnswer},
	})

	st, err := s.GetTestStats(ctx, "test_y")
	require.NoError(t, err)
	assert.Equal(t, 1, st.TimesTaken)
	assert.Equal(t, 100.0, st.AverageScore)
	assert.Equal(t, 100.0, st.BestScore)
	assert.Equal(t, 100.0, st.WorstScore)

	// Second run: 50%.
	startSession(t, s, "st2", "test_y", qs)
	finalizeSession(t, s, "st2", qs, map[string]SubmittedAnswer{
		qs[0].ID: {Selected: qs[0].CorrectAnswer},
		qs[1].ID: {Selected: (qs[1].CorrectAnswer + 1) % 4},
	})

	st, err = s.GetTestStats(ctx, "test_y")
	require.NoError(t, err)
	assert.Equal(t, 2, st.TimesTaken)
	assert.Equal(t, 75.0, st.AverageScore)
	assert.Equal(t, 100.0, st.BestScore)
	assert.Equal(t, 50.0, st.WorstScore)

	gs, err := s.GeneralStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, gs.SessionsCompleted)
	assert.Equal(t, 75.0, gs.AverageScore)
	require.NotEmpty(t, gs.TestStatistics)
}

func TestGeneratedTestRoundTrip(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	gt := GeneratedTest{
		ID:           "dyn_random_1_abc",
		Type:         TestTypeRandom,
		Title:        "Random Test (5 questions)",
		Criteria:     Criteria{Difficulty: DifficultyEasy, SessionID: "sess_src"},
		QuestionIDs:  []string{"a", "b", "c"},
		Identity:     "alice",
		PassingGrade: 70,
		CreatedAt:    time.Now(),
	}
	require.NoError(t, s.SaveGeneratedTest(ctx, gt))

	got, err := s.GetGeneratedTest(ctx, gt.ID)
	require.NoError(t, err)
	assert.Equal(t, gt.Type, got.Type)
	assert.Equal(t, gt.QuestionIDs, got.QuestionIDs)
	assert.Equal(t, DifficultyEasy, got.Criteria.Difficulty)
	assert.Equal(t, "sess_src", got.Criteria.SessionID)

	_, err = s.GetGeneratedTest(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteSessionRemovesAnswers(t *testing.T) {
	s := newSQLStore(t)
	ctx := context.Background()

	bank := testBank("bank_d", 1)
	_, err := s.LoadBank(ctx, bank)
	require.NoError(t, err)

	startSession(t, s, "del1", "test_z", bank.Questions)
	finalizeSession(t, s, "del1", bank.Questions, map[string]SubmittedAnswer{
		bank.Questions[0].ID: {Selected: bank.Questions[0].CorrectAnswer},
	})

	require.NoError(t, s.DeleteSession(ctx, "del1"))

	_, err = s.GetSession(ctx, "del1")
	assert.ErrorIs(t, err, ErrNotFound)
	rows, err := s.SessionAnswers(ctx, "del1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	assert.ErrorIs(t, s.DeleteSession(ctx, "del1"), ErrNotFound)
}
