package quiz

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quizforge/quizforge/internal/grading"
	"github.com/quizforge/quizforge/internal/logging"
)

const (
	MinQuestions = 5
	MaxQuestions = 100
)

// TestSource is the read side of the static test cache.
type TestSource interface {
	Get(id string) (Test, bool)
	List() []Test
}

// Service drives test generation and the session lifecycle on top of a Store
// and the static test cache.
type Service struct {
	store        Store
	tests        TestSource
	passingGrade float64
	log          *logging.Logger
	now          func() time.Time
}

func NewService(store Store, tests TestSource, passingGrade float64, log *logging.Logger) *Service {
	if passingGrade <= 0 {
		passingGrade = grading.DefaultPassingGrade
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Service{store: store, tests: tests, passingGrade: passingGrade, log: log, now: time.Now}
}

// GenerateRequest describes a dynamic test to assemble.
type GenerateRequest struct {
	Type         TestType   `json:"test_type"`
	NumQuestions int        `json:"num_questions"`
	Categories   []string   `json:"categories,omitempty"`
	Difficulty   Difficulty `json:"difficulty,omitempty"`
	Keyword      string     `json:"keyword,omitempty"`
	SessionID    string     `json:"session_id,omitempty"` // failed_questions: limit to one session
}

// GenerateTest assembles a test from the pool, persists the immutable
// snapshot and opens a session for it. Fewer matching questions than
// requested is fine; an empty selection is ErrNoQuestions.
func (s *Service) GenerateTest(ctx context.Context, req GenerateRequest, identity string) (Test, Session, error) {
	if identity == "" {
		identity = AnonymousIdentity
	}
	if req.NumQuestions < MinQuestions || req.NumQuestions > MaxQuestions {
		return Test{}, Session{}, fmt.Errorf("num_questions must be between %d and %d: %w",
			MinQuestions, MaxQuestions, ErrInvalidCriteria)
	}

	var (
		questions []Question
		criteria  Criteria
		err       error
	)
	switch req.Type {
	case TestTypeRandom:
		criteria = Criteria{Difficulty: req.Difficulty, Keyword: req.Keyword}
		questions, err = s.store.SelectQuestions(ctx, criteria, identity, req.NumQuestions)
	case TestTypeCategory:
		if len(req.Categories) == 0 {
			return Test{}, Session{}, fmt.Errorf("category test needs at least one category: %w", ErrInvalidCriteria)
		}
		criteria = Criteria{Difficulty: req.Difficulty, Categories: req.Categories, Keyword: req.Keyword}
		questions, err = s.store.SelectQuestions(ctx, criteria, identity, req.NumQuestions)
	case TestTypeDifficulty:
		if req.Difficulty == "" {
			return Test{}, Session{}, fmt.Errorf("difficulty test needs a difficulty: %w", ErrInvalidCriteria)
		}
		criteria = Criteria{Difficulty: req.Difficulty, Keyword: req.Keyword}
		questions, err = s.store.SelectQuestions(ctx, criteria, identity, req.NumQuestions)
	case TestTypeFailed:
		if req.SessionID != "" {
			criteria = Criteria{SessionID: req.SessionID}
			questions, err = s.failedFromSession(ctx, req.SessionID, req.NumQuestions)
		} else {
			questions, err = s.store.SelectFailed(ctx, identity, req.NumQuestions)
		}
	default:
		return Test{}, Session{}, fmt.Errorf("unknown test type %q: %w", req.Type, ErrInvalidCriteria)
	}
	if err != nil {
		return Test{}, Session{}, err
	}
	if len(questions) == 0 {
		return Test{}, Session{}, ErrNoQuestions
	}

	now := s.now()
	gt := GeneratedTest{
		ID:           fmt.Sprintf("dyn_%s_%d_%s", req.Type, now.Unix(), uuid.NewString()[:8]),
		Type:         req.Type,
		Title:        generatedTitle(req, len(questions)),
		Criteria:     criteria,
		QuestionIDs:  questionIDs(questions),
		Identity:     identity,
		PassingGrade: s.passingGrade,
		CreatedAt:    now,
	}
	if err := s.store.SaveGeneratedTest(ctx, gt); err != nil {
		return Test{}, Session{}, err
	}

	test := Test{
		ID:                   gt.ID,
		Title:                gt.Title,
		Difficulty:           req.Difficulty,
		EstimatedDurationMin: estimatedMinutes(questions),
		PassingGrade:         gt.PassingGrade,
		Questions:            questions,
	}

	sess, err := s.openSession(ctx, test, gt.Type, identity)
	if err != nil {
		return Test{}, Session{}, err
	}
	s.log.Info("generated test", "test_id", gt.ID, "type", string(gt.Type),
		"questions", len(questions), "identity", identity)
	return test, sess, nil
}

func generatedTitle(req GenerateRequest, n int) string {
	switch req.Type {
	case TestTypeCategory:
		return fmt.Sprintf("Category Test: %s (%d questions)", strings.Join(req.Categories, ", "), n)
	case TestTypeDifficulty:
		return fmt.Sprintf("%s Difficulty Test (%d questions)", capitalize(string(req.Difficulty)), n)
	case TestTypeFailed:
		return fmt.Sprintf("Review Test: Previously Missed (%d questions)", n)
	default:
		return fmt.Sprintf("Random Test (%d questions)", n)
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func questionIDs(qs []Question) []string {
	ids := make([]string, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}
	return ids
}

func estimatedMinutes(qs []Question) int {
	total := 0
	for _, q := range qs {
		if q.EstimatedTimeSec > 0 {
			total += q.EstimatedTimeSec
		} else {
			total += 60
		}
	}
	return int(math.Ceil(float64(total) / 60))
}

// failedFromSession recalls the questions answered incorrectly within one
// prior session. Bank-resident questions come straight from the store;
// questions that exist only in a static test definition are pulled from the
// session's test so they stay recallable too.
func (s *Service) failedFromSession(ctx context.Context, sessionID string, limit int) ([]Question, error) {
	questions, err := s.store.SelectFailedFromSession(ctx, sessionID, limit)
	if err != nil {
		return nil, err
	}
	answers, err := s.store.SessionAnswers(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(questions))
	for _, q := range questions {
		have[q.ID] = true
	}
	missing := map[string]bool{}
	for _, a := range answers {
		if !a.IsCorrect && !have[a.QuestionID] {
			missing[a.QuestionID] = true
		}
	}
	if len(missing) == 0 || len(questions) >= limit {
		return questions, nil
	}
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	all, err := s.sessionQuestions(ctx, sess)
	if err != nil {
		return nil, err
	}
	for _, q := range all {
		if len(questions) >= limit {
			break
		}
		if missing[q.ID] {
			questions = append(questions, q)
		}
	}
	return questions, nil
}

// StartSession opens a session for a static test or a previously generated
// one.
func (s *Service) StartSession(ctx context.Context, testID, identity string) (Session, error) {
	if identity == "" {
		identity = AnonymousIdentity
	}
	test, err := s.resolveTest(ctx, testID)
	if err != nil {
		return Session{}, err
	}
	sess, err := s.openSession(ctx, test, testTypeOf(testID), identity)
	if err != nil {
		return Session{}, err
	}
	s.log.Info("session started", "session_id", sess.ID, "test_id", testID, "identity", identity)
	return sess, nil
}

func (s *Service) openSession(ctx context.Context, test Test, typ TestType, identity string) (Session, error) {
	sess := Session{
		ID:             uuid.NewString(),
		TestID:         test.ID,
		TestTitle:      test.Title,
		Identity:       identity,
		Status:         StatusActive,
		TestType:       typ,
		StartedAt:      s.now(),
		TotalQuestions: len(test.Questions),
		QuestionIDs:    questionIDs(test.Questions),
		Answers:        map[string]SubmittedAnswer{},
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

func testTypeOf(testID string) TestType {
	rest, ok := strings.CutPrefix(testID, "dyn_")
	if !ok {
		return ""
	}
	// failed_questions contains an underscore, so match whole type names.
	for _, tt := range []TestType{TestTypeFailed, TestTypeRandom, TestTypeCategory, TestTypeDifficulty} {
		if strings.HasPrefix(rest, string(tt)+"_") {
			return tt
		}
	}
	return ""
}

// resolveTest materializes a test by ID: static tests come from the cache,
// generated ones are rebuilt from their snapshot in question order.
func (s *Service) resolveTest(ctx context.Context, testID string) (Test, error) {
	if s.tests != nil {
		if t, ok := s.tests.Get(testID); ok {
			return t, nil
		}
	}
	gt, err := s.store.GetGeneratedTest(ctx, testID)
	if err != nil {
		return Test{}, err
	}
	questions, err := s.store.GetQuestions(ctx, gt.QuestionIDs)
	if err != nil {
		return Test{}, err
	}
	return Test{
		ID:                   gt.ID,
		Title:                gt.Title,
		EstimatedDurationMin: estimatedMinutes(questions),
		PassingGrade:         gt.PassingGrade,
		Questions:            questions,
	}, nil
}

// SessionQuestion is the client view of one question during a session: the
// answer key and explanation never leave the server before finalize.
type SessionQuestion struct {
	Index            int      `json:"index"`
	Total            int      `json:"total"`
	QuestionID       string   `json:"question_id"`
	Text             string   `json:"question"`
	Options          []string `json:"options"`
	Category         string   `json:"category,omitempty"`
	Difficulty       string   `json:"difficulty,omitempty"`
	Points           float64  `json:"points"`
	EstimatedTimeSec int      `json:"estimated_time_seconds,omitempty"`
}

func (s *Service) Question(ctx context.Context, sessionID string, index int) (SessionQuestion, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SessionQuestion{}, err
	}
	if index < 0 || index >= len(sess.QuestionIDs) {
		return SessionQuestion{}, fmt.Errorf("question index %d out of range: %w", index, ErrNotFound)
	}
	questions, err := s.sessionQuestions(ctx, sess)
	if err != nil {
		return SessionQuestion{}, err
	}
	if index >= len(questions) {
		return SessionQuestion{}, fmt.Errorf("question index %d out of range: %w", index, ErrNotFound)
	}
	q := questions[index]
	return SessionQuestion{
		Index:            index,
		Total:            sess.TotalQuestions,
		QuestionID:       q.ID,
		Text:             q.Text,
		Options:          q.Options,
		Category:         q.Category,
		Difficulty:       string(q.Difficulty),
		Points:           q.Points,
		EstimatedTimeSec: q.EstimatedTimeSec,
	}, nil
}

// SubmitAnswer records one answer and advances session progress. Answers may
// be revised until the session completes; only the latest submission per
// question counts.
func (s *Service) SubmitAnswer(ctx context.Context, sessionID, questionID string, selected, timeSpentSec int) (Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if sess.Status != StatusActive {
		return Session{}, fmt.Errorf("session %s: %w", sessionID, ErrAlreadyFinalized)
	}
	known := false
	for _, id := range sess.QuestionIDs {
		if id == questionID {
			known = true
			break
		}
	}
	if !known {
		return Session{}, fmt.Errorf("question %s not in session: %w", questionID, ErrNotFound)
	}

	if sess.Answers == nil {
		sess.Answers = map[string]SubmittedAnswer{}
	}
	sess.Answers[questionID] = SubmittedAnswer{Selected: selected, TimeSpentSec: timeSpentSec}
	if next := len(sess.Answers); next > sess.CurrentIndex {
		sess.CurrentIndex = next
	}
	if err := s.store.SaveProgress(ctx, sessionID, sess.CurrentIndex, sess.Answers); err != nil {
		return Session{}, err
	}

	sel := selected
	if err := s.store.SaveAnswer(ctx, Answer{
		SessionID:    sessionID,
		QuestionID:   questionID,
		Selected:     &sel,
		TimeSpentSec: timeSpentSec,
	}); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Complete grades the session against its test definition and finalizes it.
func (s *Service) Complete(ctx context.Context, sessionID string) (Session, grading.Results, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, grading.Results{}, err
	}
	if sess.Status != StatusActive {
		return Session{}, grading.Results{}, fmt.Errorf("session %s: %w", sessionID, ErrAlreadyFinalized)
	}

	test, err := s.resolveTest(ctx, sess.TestID)
	if err != nil {
		return Session{}, grading.Results{}, err
	}
	questions, err := s.sessionQuestionsFromTest(ctx, sess, test)
	if err != nil {
		return Session{}, grading.Results{}, err
	}

	passing := test.PassingGrade
	if passing <= 0 {
		passing = s.passingGrade
	}
	res := grading.Grade(GradingView(questions), Submissions(sess.Answers), grading.Options{
		PassingGrade: passing,
		StartedAt:    sess.StartedAt,
		CompletedAt:  s.now(),
	})

	final, err := s.store.FinalizeSession(ctx, sessionID, &res)
	if err != nil {
		return Session{}, grading.Results{}, err
	}
	s.log.Info("session completed", "session_id", sessionID, "test_id", sess.TestID,
		"score", res.Percentage, "passed", res.Passed)
	return final, res, nil
}

// Results returns the stored outcome of a completed session.
func (s *Service) Results(ctx context.Context, sessionID string) (Session, []Answer, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, nil, err
	}
	if sess.Status != StatusCompleted {
		return Session{}, nil, fmt.Errorf("session %s not completed: %w", sessionID, ErrNotFound)
	}
	answers, err := s.store.SessionAnswers(ctx, sessionID)
	if err != nil {
		return Session{}, nil, err
	}
	return sess, answers, nil
}

func (s *Service) sessionQuestions(ctx context.Context, sess Session) ([]Question, error) {
	test, err := s.resolveTest(ctx, sess.TestID)
	if err != nil {
		return nil, err
	}
	return s.sessionQuestionsFromTest(ctx, sess, test)
}

// sessionQuestionsFromTest returns the session's questions in the order the
// session recorded. The session's own ID list wins over the test definition,
// so a bank reload mid-session cannot reorder a running test.
func (s *Service) sessionQuestionsFromTest(ctx context.Context, sess Session, test Test) ([]Question, error) {
	byID := make(map[string]Question, len(test.Questions))
	for _, q := range test.Questions {
		byID[q.ID] = q
	}
	out := make([]Question, 0, len(sess.QuestionIDs))
	var missing []string
	for _, id := range sess.QuestionIDs {
		if q, ok := byID[id]; ok {
			out = append(out, q)
		} else {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		fetched, err := s.store.GetQuestions(ctx, missing)
		if err != nil {
			return nil, err
		}
		fetchedBy := make(map[string]Question, len(fetched))
		for _, q := range fetched {
			fetchedBy[q.ID] = q
		}
		out = out[:0]
		for _, id := range sess.QuestionIDs {
			if q, ok := byID[id]; ok {
				out = append(out, q)
			} else if q, ok := fetchedBy[id]; ok {
				out = append(out, q)
			}
		}
	}
	return out, nil
}

// TestConfig summarizes what the pool can currently generate.
type TestConfig struct {
	TotalQuestions     int            `json:"total_questions"`
	Categories         map[string]int `json:"categories"`
	Difficulties       map[string]int `json:"difficulties"`
	MinQuestions       int            `json:"min_questions"`
	MaxQuestions       int            `json:"max_questions"`
	HasFailedQuestions bool           `json:"has_failed_questions"`
}

func (s *Service) TestConfig(ctx context.Context, identity string) (TestConfig, error) {
	stats, err := s.store.PoolStats(ctx)
	if err != nil {
		return TestConfig{}, err
	}
	failed, err := s.store.SelectFailed(ctx, identity, 1)
	if err != nil {
		return TestConfig{}, err
	}
	return TestConfig{
		TotalQuestions:     stats.TotalQuestions,
		Categories:         stats.ByCategory,
		Difficulties:       stats.ByDifficulty,
		MinQuestions:       MinQuestions,
		MaxQuestions:       MaxQuestions,
		HasFailedQuestions: len(failed) > 0,
	}, nil
}
