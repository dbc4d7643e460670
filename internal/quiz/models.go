package quiz

import "time"

// AnonymousIdentity is the sentinel used when a requester cannot be
// identified. Usage tracking still works, it is just shared.
const AnonymousIdentity = "anonymous"

type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	// DifficultyMixed means "no difficulty filter" in criteria and test
	// metadata; it is never stored on an individual question.
	DifficultyMixed Difficulty = "mixed"
)

type SourceInfo struct {
	Document  string `json:"document,omitempty"`
	Section   string `json:"section,omitempty"`
	Page      int    `json:"page,omitempty"`
	Reference string `json:"legal_reference,omitempty"`
}

// Question is the canonical question record. Both bank documents and static
// test files normalize into this type at ingestion time.
type Question struct {
	ID               string      `json:"id"`
	BankID           string      `json:"bank_id,omitempty"`
	Text             string      `json:"question"`
	Options          []string    `json:"options"` // exactly 4, validated upstream
	CorrectAnswer    int         `json:"correct_answer"`
	Explanation      string      `json:"explanation,omitempty"`
	Difficulty       Difficulty  `json:"difficulty"`
	Category         string      `json:"category"`
	Keywords         []string    `json:"keywords,omitempty"`
	Points           float64     `json:"points"`
	EstimatedTimeSec int         `json:"estimated_time_seconds"`
	Source           *SourceInfo `json:"source_info,omitempty"`
}

// Bank is a named collection of questions loaded together from one document.
type Bank struct {
	ID          string     `json:"bank_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	FilePath    string     `json:"-"`
	Questions   []Question `json:"questions"`
}

type BankInfo struct {
	ID            string    `json:"bank_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	FilePath      string    `json:"file_path,omitempty"`
	QuestionCount int       `json:"question_count"`
	LoadedAt      time.Time `json:"loaded_at"`
	LastUpdated   time.Time `json:"last_updated"`
}

// Test is a servable test definition: either a static file loaded into the
// cache at startup or the materialized form of a GeneratedTest.
type Test struct {
	ID                   string     `json:"test_id"`
	Title                string     `json:"title"`
	Description          string     `json:"description,omitempty"`
	Category             string     `json:"category,omitempty"`
	Difficulty           Difficulty `json:"difficulty,omitempty"`
	EstimatedDurationMin int        `json:"estimated_duration,omitempty"`
	PassingGrade         float64    `json:"passing_grade"`
	Questions            []Question `json:"questions"`
}

// Usage is the per (question, identity) counter driving anti-repetition
// ordering. Counts only ever grow.
type Usage struct {
	QuestionID     string    `json:"question_id"`
	Identity       string    `json:"identity"`
	TimesUsed      int       `json:"times_used"`
	LastUsed       time.Time `json:"last_used"`
	CorrectCount   int       `json:"correct_count"`
	IncorrectCount int       `json:"incorrect_count"`
}

// Criteria filters the question pool. Zero values mean "no filter": an empty
// category list matches everything and difficulty "" or "mixed" matches every
// difficulty.
type Criteria struct {
	Difficulty Difficulty `json:"difficulty,omitempty"`
	Categories []string   `json:"categories,omitempty"`
	Keyword    string     `json:"keyword,omitempty"`
	ExcludeIDs []string   `json:"exclude_question_ids,omitempty"`
	// SessionID records the source session of a failed-question recall
	// test. It is part of the generation snapshot, not a pool filter.
	SessionID string `json:"session_id,omitempty"`
}

type TestType string

const (
	TestTypeRandom     TestType = "random"
	TestTypeCategory   TestType = "category"
	TestTypeDifficulty TestType = "difficulty"
	TestTypeFailed     TestType = "failed_questions"
)

// GeneratedTest is an immutable snapshot of a dynamically assembled test:
// the criteria that produced it plus the ordered question IDs it selected.
type GeneratedTest struct {
	ID           string    `json:"test_id"`
	Type         TestType  `json:"test_type"`
	Title        string    `json:"title"`
	Criteria     Criteria  `json:"criteria"`
	QuestionIDs  []string  `json:"question_ids"`
	Identity     string    `json:"identity"`
	PassingGrade float64   `json:"passing_grade"`
	CreatedAt    time.Time `json:"created_at"`
}

type SessionStatus string

const (
	StatusActive    SessionStatus = "active"
	StatusCompleted SessionStatus = "completed"
	StatusAbandoned SessionStatus = "abandoned"
)

// SubmittedAnswer is a raw answer accumulated while a session is running.
type SubmittedAnswer struct {
	Selected     int `json:"selected_answer"`
	TimeSpentSec int `json:"time_spent_seconds"`
}

// Session is one run of a test by one identity. Progress (current index and
// raw answers) is embedded; score fields are written exactly once at
// finalize.
type Session struct {
	ID             string                     `json:"session_id"`
	TestID         string                     `json:"test_id"`
	TestTitle      string                     `json:"test_title,omitempty"`
	Identity       string                     `json:"identity,omitempty"`
	Status         SessionStatus              `json:"status"`
	TestType       TestType                   `json:"test_type,omitempty"`
	StartedAt      time.Time                  `json:"started_at"`
	CompletedAt    *time.Time                 `json:"completed_at,omitempty"`
	TotalQuestions int                        `json:"total_questions"`
	CurrentIndex   int                        `json:"current_index"`
	QuestionIDs    []string                   `json:"question_ids,omitempty"`
	Answers        map[string]SubmittedAnswer `json:"answers,omitempty"`

	CorrectAnswers  int     `json:"correct_answers"`
	TotalPoints     float64 `json:"total_points"`
	PointsEarned    float64 `json:"points_earned"`
	ScorePercentage float64 `json:"score_percentage"`
	DurationSec     int     `json:"duration_seconds"`
}

// Answer is one persisted grading record per (session, question). Written
// provisionally on submission and overwritten with grading detail at
// finalize.
type Answer struct {
	SessionID       string  `json:"session_id"`
	QuestionID      string  `json:"question_id"`
	QuestionText    string  `json:"question_text,omitempty"`
	Selected        *int    `json:"selected_answer"` // nil = unanswered
	Correct         int     `json:"correct_answer"`
	IsCorrect       bool    `json:"is_correct"`
	PointsAvailable float64 `json:"points_available"`
	PointsEarned    float64 `json:"points_earned"`
	TimeSpentSec    int     `json:"time_spent_seconds"`
}

// TestStats is the per-test rolling aggregate, updated incrementally on each
// finalize. WorstScore seeds at 100 so the first result always lowers it.
type TestStats struct {
	TestID         string     `json:"test_id"`
	TestTitle      string     `json:"test_title"`
	TimesTaken     int        `json:"times_taken"`
	AverageScore   float64    `json:"average_score"`
	BestScore      float64    `json:"best_score"`
	WorstScore     float64    `json:"worst_score"`
	TotalQuestions int        `json:"total_questions"`
	LastTaken      *time.Time `json:"last_taken,omitempty"`
}

// PoolStats describes the loaded question pool.
type PoolStats struct {
	TotalQuestions int            `json:"total_questions"`
	TotalBanks     int            `json:"total_banks"`
	ByDifficulty   map[string]int `json:"difficulty_distribution"`
	ByCategory     map[string]int `json:"category_distribution"`
}

// GeneralStats summarizes completed sessions across all tests.
type GeneralStats struct {
	SessionsCompleted int         `json:"total_sessions_completed"`
	AverageScore      float64     `json:"average_score_all_tests"`
	RecentSessions    []Session   `json:"recent_sessions"`
	TestStatistics    []TestStats `json:"test_statistics"`
}
