package quiz

import (
	"context"

	"github.com/quizforge/quizforge/internal/grading"
)

type SessionListOpts struct {
	Limit  int
	Status SessionStatus // optional filter
}

// Store is the persistence contract for the selection/scoring core. The SQL
// implementation backs sqlite and postgres; the in-memory one backs tests.
type Store interface {
	// Bank ingestion. LoadBank is idempotent on unchanged question counts
	// (returns 0 loaded) and otherwise replaces the bank's question set.
	LoadBank(ctx context.Context, b Bank) (int, error)
	DeleteBank(ctx context.Context, bankID string) (string, error) // returns file path
	ListBanks(ctx context.Context) ([]BankInfo, error)

	// Selection.
	SelectQuestions(ctx context.Context, c Criteria, identity string, limit int) ([]Question, error)
	SelectFailed(ctx context.Context, identity string, limit int) ([]Question, error)
	SelectFailedFromSession(ctx context.Context, sessionID string, limit int) ([]Question, error)
	GetQuestions(ctx context.Context, ids []string) ([]Question, error) // preserves id order

	Categories(ctx context.Context) ([]string, error)
	PoolStats(ctx context.Context) (PoolStats, error)

	// Generated-test snapshots (immutable once written).
	SaveGeneratedTest(ctx context.Context, t GeneratedTest) error
	GetGeneratedTest(ctx context.Context, id string) (GeneratedTest, error)

	// Sessions.
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id string) (Session, error)
	SaveProgress(ctx context.Context, sessionID string, index int, answers map[string]SubmittedAnswer) error
	SaveAnswer(ctx context.Context, a Answer) error
	SessionAnswers(ctx context.Context, sessionID string) ([]Answer, error)
	ListSessions(ctx context.Context, opts SessionListOpts) ([]Session, error)
	DeleteSession(ctx context.Context, id string) error

	// FinalizeSession applies grading results as one atomic unit: answer
	// rows, usage upserts, the active→completed status flip, the stats
	// rollup and the history event all commit together or not at all.
	FinalizeSession(ctx context.Context, sessionID string, res *grading.Results) (Session, error)

	// Statistics.
	GetTestStats(ctx context.Context, testID string) (TestStats, error)
	GeneralStats(ctx context.Context) (GeneralStats, error)

	Ping(ctx context.Context) error
}

// GradingView converts questions to the minimal view the grading engine
// consumes.
func GradingView(qs []Question) []grading.Q {
	out := make([]grading.Q, 0, len(qs))
	for _, q := range qs {
		out = append(out, grading.Q{
			ID:         q.ID,
			Text:       q.Text,
			Category:   q.Category,
			Difficulty: string(q.Difficulty),
			Points:     q.Points,
			Correct:    q.CorrectAnswer,
		})
	}
	return out
}

// Submissions converts accumulated session answers to grading submissions.
func Submissions(answers map[string]SubmittedAnswer) map[string]grading.Submission {
	out := make(map[string]grading.Submission, len(answers))
	for id, a := range answers {
		out[id] = grading.Submission{Selected: a.Selected, TimeSpentSec: a.TimeSpentSec}
	}
	return out
}
