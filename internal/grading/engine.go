package grading

import "time"

// Q is a minimal view of a question needed for grading. The quiz package
// converts its Question type into this so grading stays dependency-free.
type Q struct {
	ID         string
	Text       string
	Category   string
	Difficulty string
	Points     float64
	Correct    int // index of the correct option
}

// Submission is one raw submitted answer keyed by question ID.
type Submission struct {
	Selected     int
	TimeSpentSec int
}

// Tally tracks correctness within one category or difficulty bucket.
type Tally struct {
	Correct    int     `json:"correct"`
	Attempted  int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Detail is the graded outcome of a single question, in test order.
type Detail struct {
	QuestionID      string  `json:"question_id"`
	QuestionText    string  `json:"question_text"`
	Answered        bool    `json:"answered"`
	Selected        int     `json:"selected_answer"` // -1 when unanswered
	Correct         int     `json:"correct_answer"`
	IsCorrect       bool    `json:"is_correct"`
	PointsAvailable float64 `json:"points_available"`
	PointsEarned    float64 `json:"points_earned"`
	TimeSpentSec    int     `json:"time_spent_seconds"`
}

// Results is the full outcome of grading one completed test.
type Results struct {
	Score          int              `json:"score"` // number of correct answers
	TotalQuestions int              `json:"total_questions"`
	TotalPoints    float64          `json:"total_points"`
	PointsEarned   float64          `json:"points_earned"`
	Percentage     float64          `json:"percentage"`
	Passed         bool             `json:"passed"`
	DurationSec    int              `json:"duration_seconds"`
	CompletedAt    time.Time        `json:"completed_at"`
	ByCategory     map[string]Tally `json:"category_performance"`
	ByDifficulty   map[string]Tally `json:"difficulty_performance"`
	Details        []Detail         `json:"detailed_answers"`
}

const DefaultPassingGrade = 70

// Options carry the session context needed beyond the raw answers.
type Options struct {
	PassingGrade float64 // percent; 0 means DefaultPassingGrade
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Grade computes the full result set for one test run. It is pure: the same
// (questions, submissions, opts) always yields the same Results. The test's
// question order is the authoritative iteration order; a question with no
// submission grades as unanswered and incorrect but still counts in its
// category and difficulty denominators.
func Grade(questions []Q, submissions map[string]Submission, opts Options) Results {
	passing := opts.PassingGrade
	if passing == 0 {
		passing = DefaultPassingGrade
	}

	res := Results{
		TotalQuestions: len(questions),
		CompletedAt:    opts.CompletedAt,
		ByCategory:     map[string]Tally{},
		ByDifficulty:   map[string]Tally{},
		Details:        make([]Detail, 0, len(questions)),
	}

	for _, q := range questions {
		d := Detail{
			QuestionID:      q.ID,
			QuestionText:    q.Text,
			Selected:        -1,
			Correct:         q.Correct,
			PointsAvailable: q.Points,
		}
		sub, has := submissions[q.ID]
		if has {
			d.Answered = true
			d.Selected = sub.Selected
			d.TimeSpentSec = sub.TimeSpentSec
			// Exact match only; no partial credit.
			d.IsCorrect = sub.Selected == q.Correct
		}
		if d.IsCorrect {
			d.PointsEarned = q.Points
			res.Score++
			res.PointsEarned += q.Points
		}
		res.TotalPoints += q.Points

		bump(res.ByCategory, q.Category, d.IsCorrect)
		bump(res.ByDifficulty, q.Difficulty, d.IsCorrect)
		res.Details = append(res.Details, d)
	}

	if res.TotalPoints > 0 {
		res.Percentage = res.PointsEarned / res.TotalPoints * 100
	}
	res.Passed = res.Percentage >= passing

	for k, t := range res.ByCategory {
		res.ByCategory[k] = withPercentage(t)
	}
	for k, t := range res.ByDifficulty {
		res.ByDifficulty[k] = withPercentage(t)
	}

	if !opts.StartedAt.IsZero() && !opts.CompletedAt.IsZero() {
		if d := int(opts.CompletedAt.Sub(opts.StartedAt).Seconds()); d > 0 {
			res.DurationSec = d
		}
	}
	return res
}

func bump(m map[string]Tally, key string, correct bool) {
	t := m[key]
	t.Attempted++
	if correct {
		t.Correct++
	}
	m[key] = t
}

func withPercentage(t Tally) Tally {
	if t.Attempted > 0 {
		t.Percentage = float64(t.Correct) / float64(t.Attempted) * 100
	}
	return t
}
