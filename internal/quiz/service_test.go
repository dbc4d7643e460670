package quiz

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quizforge/quizforge/internal/logging"
)

type staticTests map[string]Test

func (s staticTests) Get(id string) (Test, bool) { t, ok := s[id]; return t, ok }
func (s staticTests) List() []Test {
	out := make([]Test, 0, len(s))
	for _, t := range s {
		out = append(out, t)
	}
	return out
}

func seededService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	bank := testBank("bank_svc", 8)
	for i := range bank.Questions {
		if i < 4 {
			bank.Questions[i].Category = "math"
			bank.Questions[i].Difficulty = DifficultyEasy
		} else {
			bank.Questions[i].Category = "history"
			bank.Questions[i].Difficulty = DifficultyHard
		}
	}
	_, err := store.LoadBank(context.Background(), bank)
	require.NoError(t, err)
	return NewService(store, staticTests{}, 70, logging.Nop()), store
}

func TestGenerateTestBounds(t *testing.T) {
	svc, _ := seededService(t)
	ctx := context.Background()

	_, _, err := svc.GenerateTest(ctx, GenerateRequest{Type: TestTypeRandom, NumQuestions: 4}, "alice")
	assert.ErrorIs(t, err, ErrInvalidCriteria)

	_, _, err = svc.GenerateTest(ctx, GenerateRequest{Type: TestTypeRandom, NumQuestions: 101}, "alice")
	assert.ErrorIs(t, err, ErrInvalidCriteria)

	_, _, err = svc.GenerateTest(ctx, GenerateRequest{Type: TestTypeCategory, NumQuestions: 5}, "alice")
	assert.ErrorIs(t, err, ErrInvalidCriteria)

	_, _, err = svc.GenerateTest(ctx, GenerateRequest{Type: "bogus", NumQuestions: 5}, "alice")
	assert.ErrorIs(t, err, ErrInvalidCriteria)
}

func TestGenerateTestRandom(t *testing.T) {
	svc, _ := seededService(t)
	test, sess, err := svc.GenerateTest(context.Background(),
		GenerateRequest{Type: TestTypeRandom, NumQuestions: 5}, "alice")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(test.ID, "dyn_random_"))
	assert.Len(t, test.Questions, 5)
	assert.Equal(t, test.ID, sess.TestID)
	assert.Equal(t, StatusActive, sess.Status)
	assert.Equal(t, 5, sess.TotalQuestions)
	assert.Len(t, sess.QuestionIDs, 5)
}

func TestGenerateTestStarvationIsShortNotError(t *testing.T) {
	svc, _ := seededService(t)
	test, _, err := svc.GenerateTest(context.Background(),
		GenerateRequest{Type: TestTypeCategory, NumQuestions: 10, Categories: []string{"math"}}, "alice")
	require.NoError(t, err)
	assert.Len(t, test.Questions, 4)
	for _, q := range test.Questions {
		assert.Equal(t, "math", q.Category)
	}
}

func TestGenerateTestEmptyPool(t *testing.T) {
	svc, _ := seededService(t)
	_, _, err := svc.GenerateTest(context.Background(),
		GenerateRequest{Type: TestTypeCategory, NumQuestions: 5, Categories: []string{"absent"}}, "alice")
	assert.ErrorIs(t, err, ErrNoQuestions)
}

func TestGenerateFailedQuestionsNeedsHistory(t *testing.T) {
	svc, _ := seededService(t)
	_, _, err := svc.GenerateTest(context.Background(),
		GenerateRequest{Type: TestTypeFailed, NumQuestions: 5}, "alice")
	assert.ErrorIs(t, err, ErrNoQuestions)
}

func TestSessionFlow(t *testing.T) {
	svc, store := seededService(t)
	ctx := context.Background()

	test, sess, err := svc.GenerateTest(ctx,
		GenerateRequest{Type: TestTypeRandom, NumQuestions: 5}, "alice")
	require.NoError(t, err)

	// Question view leaks nothing about the answer key.
	q0, err := svc.Question(ctx, sess.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, test.Questions[0].ID, q0.QuestionID)
	assert.Equal(t, 5, q0.Total)
	assert.Len(t, q0.Options, 4)

	_, err = svc.Question(ctx, sess.ID, 99)
	assert.ErrorIs(t, err, ErrNotFound)

	// Answer everything correctly, revising one along the way.
	for _, q := range test.Questions {
		_, err := svc.SubmitAnswer(ctx, sess.ID, q.ID, (q.CorrectAnswer+1)%4, 5)
		require.NoError(t, err)
		_, err = svc.SubmitAnswer(ctx, sess.ID, q.ID, q.CorrectAnswer, 5)
		require.NoError(t, err)
	}

	_, err = svc.SubmitAnswer(ctx, sess.ID, "not_in_session", 0, 0)
	assert.ErrorIs(t, err, ErrNotFound)

	final, res, err := svc.Complete(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, final.Status)
	assert.Equal(t, 100.0, res.Percentage)
	assert.True(t, res.Passed)
	assert.Equal(t, 5, res.Score)

	// Completion is terminal.
	_, _, err = svc.Complete(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)
	_, err = svc.SubmitAnswer(ctx, sess.ID, test.Questions[0].ID, 0, 0)
	assert.ErrorIs(t, err, ErrAlreadyFinalized)

	// Stored results match.
	gotSess, answers, err := svc.Results(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, gotSess.CorrectAnswers)
	assert.Len(t, answers, 5)

	st, err := store.GetTestStats(ctx, test.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, st.TimesTaken)
	assert.Equal(t, 100.0, st.AverageScore)
}

func TestUnansweredQuestionsScoreAsWrong(t *testing.T) {
	svc, _ := seededService(t)
	ctx := context.Background()

	test, sess, err := svc.GenerateTest(ctx,
		GenerateRequest{Type: TestTypeRandom, NumQuestions: 5}, "alice")
	require.NoError(t, err)

	// Answer only the first question.
	_, err = svc.SubmitAnswer(ctx, sess.ID, test.Questions[0].ID, test.Questions[0].CorrectAnswer, 3)
	require.NoError(t, err)

	_, res, err := svc.Complete(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Score)
	assert.Equal(t, 5, res.TotalQuestions)
	assert.Equal(t, 20.0, res.Percentage)
	assert.False(t, res.Passed)
}

func TestFailedQuestionsRecycle(t *testing.T) {
	svc, _ := seededService(t)
	ctx := context.Background()

	test, sess, err := svc.GenerateTest(ctx,
		GenerateRequest{Type: TestTypeRandom, NumQuestions: 8}, "alice")
	require.NoError(t, err)

	// Miss exactly the math questions.
	var missed []string
	for _, q := range test.Questions {
		sel := q.CorrectAnswer
		if q.Category == "math" {
			sel = (sel + 1) % 4
			missed = append(missed, q.ID)
		}
		_, err := svc.SubmitAnswer(ctx, sess.ID, q.ID, sel, 2)
		require.NoError(t, err)
	}
	_, _, err = svc.Complete(ctx, sess.ID)
	require.NoError(t, err)

	review, _, err := svc.GenerateTest(ctx,
		GenerateRequest{Type: TestTypeFailed, NumQuestions: 10}, "alice")
	require.NoError(t, err)
	assert.Equal(t, TestType("failed_questions"), testTypeOf(review.ID))
	assert.Len(t, review.Questions, len(missed))
	for _, q := range review.Questions {
		assert.Contains(t, missed, q.ID)
	}
}

func TestFailedQuestionsFromStaticSession(t *testing.T) {
	// The questions live only in the test cache, never in the pool, so the
	// store's session-scoped query alone cannot resolve their content.
	store := NewMemoryStore()
	static := staticTests{
		"static_rev": {
			ID: "static_rev", Title: "Static Review", PassingGrade: 70,
			Questions: testBank("bank_cacheonly", 5).Questions,
		},
	}
	svc := NewService(store, static, 70, logging.Nop())
	ctx := context.Background()

	sess, err := svc.StartSession(ctx, "static_rev", "alice")
	require.NoError(t, err)

	qs := static["static_rev"].Questions
	var missed []string
	for i, q := range qs {
		sel := q.CorrectAnswer
		if i < 2 {
			sel = (sel + 1) % 4
			missed = append(missed, q.ID)
		}
		_, err := svc.SubmitAnswer(ctx, sess.ID, q.ID, sel, 1)
		require.NoError(t, err)
	}
	_, _, err = svc.Complete(ctx, sess.ID)
	require.NoError(t, err)

	// The persisted answer rows are there to recall from.
	answers, err := store.SessionAnswers(ctx, sess.ID)
	require.NoError(t, err)
	require.Len(t, answers, 5)

	review, _, err := svc.GenerateTest(ctx, GenerateRequest{
		Type: TestTypeFailed, NumQuestions: 5, SessionID: sess.ID,
	}, "alice")
	require.NoError(t, err)
	require.Len(t, review.Questions, 2)
	for _, q := range review.Questions {
		assert.Contains(t, missed, q.ID)
	}

	// The snapshot records where the recall came from.
	gt, err := store.GetGeneratedTest(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, gt.Criteria.SessionID)
}

func TestFailedQuestionsFromBankSession(t *testing.T) {
	// Bank-resident questions still come through the store's session query.
	svc, store := seededService(t)
	ctx := context.Background()

	test, sess, err := svc.GenerateTest(ctx,
		GenerateRequest{Type: TestTypeRandom, NumQuestions: 6}, "alice")
	require.NoError(t, err)

	var missed []string
	for i, q := range test.Questions {
		sel := q.CorrectAnswer
		if i%2 == 0 {
			sel = (sel + 1) % 4
			missed = append(missed, q.ID)
		}
		_, err := svc.SubmitAnswer(ctx, sess.ID, q.ID, sel, 1)
		require.NoError(t, err)
	}
	_, _, err = svc.Complete(ctx, sess.ID)
	require.NoError(t, err)

	review, _, err := svc.GenerateTest(ctx, GenerateRequest{
		Type: TestTypeFailed, NumQuestions: 10, SessionID: sess.ID,
	}, "alice")
	require.NoError(t, err)
	require.Len(t, review.Questions, len(missed))
	for _, q := range review.Questions {
		assert.Contains(t, missed, q.ID)
	}

	gt, err := store.GetGeneratedTest(ctx, review.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, gt.Criteria.SessionID)
}

func TestStartSessionStaticTest(t *testing.T) {
	store := NewMemoryStore()
	static := staticTests{
		"ethics_basic": {
			ID: "ethics_basic", Title: "Ethics Basics", PassingGrade: 80,
			Questions: testBank("bank_static", 3).Questions,
		},
	}
	svc := NewService(store, static, 70, logging.Nop())
	ctx := context.Background()

	sess, err := svc.StartSession(ctx, "ethics_basic", "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, sess.TotalQuestions)

	// Fails the 80% bar with 2 of 3.
	qs := static["ethics_basic"].Questions
	for i, q := range qs {
		sel := q.CorrectAnswer
		if i == 0 {
			sel = (sel + 1) % 4
		}
		_, err := svc.SubmitAnswer(ctx, sess.ID, q.ID, sel, 1)
		require.NoError(t, err)
	}
	_, res, err := svc.Complete(ctx, sess.ID)
	require.NoError(t, err)
	assert.InDelta(t, 66.67, res.Percentage, 0.01)
	assert.False(t, res.Passed)

	_, err = svc.StartSession(ctx, "missing_test", "alice")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTestConfig(t *testing.T) {
	svc, _ := seededService(t)
	cfg, err := svc.TestConfig(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.TotalQuestions)
	assert.Equal(t, 4, cfg.Categories["math"])
	assert.Equal(t, 4, cfg.Difficulties["hard"])
	assert.Equal(t, MinQuestions, cfg.MinQuestions)
	assert.Equal(t, MaxQuestions, cfg.MaxQuestions)
	assert.False(t, cfg.HasFailedQuestions)
}
