package quiz

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quizforge/quizforge/internal/grading"
)

// MemoryStore is an in-process Store used by tests and as a dev fallback
// when no database is configured. It mirrors the SQL store's semantics,
// including the anti-repetition ordering and the finalize compare-and-set.
type MemoryStore struct {
	mu        sync.RWMutex
	questions map[string]Question
	banks     map[string]BankInfo
	usage     map[string]Usage // key: questionID + "\x00" + identity
	generated map[string]GeneratedTest
	sessions  map[string]Session
	answers   map[string]map[string]Answer // sessionID -> questionID -> Answer
	stats     map[string]TestStats
	rnd       *rand.Rand
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		questions: map[string]Question{},
		banks:     map[string]BankInfo{},
		usage:     map[string]Usage{},
		generated: map[string]GeneratedTest{},
		sessions:  map[string]Session{},
		answers:   map[string]map[string]Answer{},
		stats:     map[string]TestStats{},
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func usageKey(questionID, identity string) string { return questionID + "\x00" + identity }

func (m *MemoryStore) LoadBank(ctx context.Context, b Bank) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if info, ok := m.banks[b.ID]; ok && info.QuestionCount == len(b.Questions) {
		return 0, nil
	}

	for id, q := range m.questions {
		if q.BankID == b.ID {
			delete(m.questions, id)
		}
	}
	for _, q := range b.Questions {
		q.BankID = b.ID
		m.questions[q.ID] = q
	}
	now := time.Now()
	info := m.banks[b.ID]
	if info.ID == "" {
		info.LoadedAt = now
	}
	info.ID = b.ID
	info.Title = b.Title
	info.Description = b.Description
	info.FilePath = b.FilePath
	info.QuestionCount = len(b.Questions)
	info.LastUpdated = now
	m.banks[b.ID] = info
	return len(b.Questions), nil
}

func (m *MemoryStore) DeleteBank(ctx context.Context, bankID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.banks[bankID]
	if !ok {
		return "", fmt.Errorf("bank %s: %w", bankID, ErrNotFound)
	}
	for id, q := range m.questions {
		if q.BankID == bankID {
			delete(m.questions, id)
		}
	}
	delete(m.banks, bankID)
	return info.FilePath, nil
}

func (m *MemoryStore) ListBanks(ctx context.Context) ([]BankInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]BankInfo, 0, len(m.banks))
	for _, b := range m.banks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUpdated.After(out[j].LastUpdated) })
	return out, nil
}

func (m *MemoryStore) matches(q Question, c Criteria) bool {
	if c.Difficulty != "" && c.Difficulty != DifficultyMixed && q.Difficulty != c.Difficulty {
		return false
	}
	if len(c.Categories) > 0 {
		found := false
		for _, cat := range c.Categories {
			if q.Category == cat {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if c.Keyword != "" {
		found := false
		for _, kw := range q.Keywords {
			if strings.Contains(kw, c.Keyword) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for _, id := range c.ExcludeIDs {
		if q.ID == id {
			return false
		}
	}
	return true
}

func (m *MemoryStore) SelectQuestions(ctx context.Context, c Criteria, identity string, limit int) ([]Question, error) {
	if limit <= 0 {
		return nil, nil
	}
	if identity == "" {
		identity = AnonymousIdentity
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var pool []Question
	for _, q := range m.questions {
		if m.matches(q, c) {
			pool = append(pool, q)
		}
	}
	m.rnd.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	sort.SliceStable(pool, func(i, j int) bool {
		ui := m.usage[usageKey(pool[i].ID, identity)]
		uj := m.usage[usageKey(pool[j].ID, identity)]
		if ui.TimesUsed != uj.TimesUsed {
			return ui.TimesUsed < uj.TimesUsed
		}
		return ui.LastUsed.Before(uj.LastUsed)
	})
	if len(pool) > limit {
		pool = pool[:limit]
	}
	return pool, nil
}

func (m *MemoryStore) SelectFailed(ctx context.Context, identity string, limit int) ([]Question, error) {
	if limit <= 0 {
		return nil, nil
	}
	if identity == "" {
		identity = AnonymousIdentity
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var pool []Question
	for _, q := range m.questions {
		if u := m.usage[usageKey(q.ID, identity)]; u.IncorrectCount > 0 {
			pool = append(pool, q)
		}
	}
	m.rnd.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	sort.SliceStable(pool, func(i, j int) bool {
		ui := m.usage[usageKey(pool[i].ID, identity)]
		uj := m.usage[usageKey(pool[j].ID, identity)]
		if ui.IncorrectCount != uj.IncorrectCount {
			return ui.IncorrectCount > uj.IncorrectCount
		}
		return ui.LastUsed.Before(uj.LastUsed)
	})
	if len(pool) > limit {
		pool = pool[:limit]
	}
	return pool, nil
}

func (m *MemoryStore) SelectFailedFromSession(ctx context.Context, sessionID string, limit int) ([]Question, error) {
	if limit <= 0 {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Question
	for _, a := range m.answers[sessionID] {
		if !a.IsCorrect {
			if q, ok := m.questions[a.QuestionID]; ok {
				out = append(out, q)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) GetQuestions(ctx context.Context, ids []string) ([]Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := m.questions[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (m *MemoryStore) Categories(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, q := range m.questions {
		if q.Category != "" && !seen[q.Category] {
			seen[q.Category] = true
			out = append(out, q.Category)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) PoolStats(ctx context.Context) (PoolStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := PoolStats{
		TotalQuestions: len(m.questions),
		TotalBanks:     len(m.banks),
		ByDifficulty:   map[string]int{},
		ByCategory:     map[string]int{},
	}
	for _, q := range m.questions {
		st.ByDifficulty[string(q.Difficulty)]++
		if q.Category != "" {
			st.ByCategory[q.Category]++
		}
	}
	return st, nil
}

func (m *MemoryStore) SaveGeneratedTest(ctx context.Context, t GeneratedTest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generated[t.ID] = t
	return nil
}

func (m *MemoryStore) GetGeneratedTest(ctx context.Context, id string) (GeneratedTest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.generated[id]
	if !ok {
		return GeneratedTest{}, fmt.Errorf("test %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (m *MemoryStore) CreateSession(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.Identity == "" {
		s.Identity = AnonymousIdentity
	}
	if s.Status == "" {
		s.Status = StatusActive
	}
	if s.Answers == nil {
		s.Answers = map[string]SubmittedAnswer{}
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return cloneSession(s), nil
}

func (m *MemoryStore) SaveProgress(ctx context.Context, sessionID string, index int, answers map[string]SubmittedAnswer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if s.Status != StatusActive {
		return fmt.Errorf("session %s: %w", sessionID, ErrAlreadyFinalized)
	}
	s.CurrentIndex = index
	s.Answers = make(map[string]SubmittedAnswer, len(answers))
	for k, v := range answers {
		s.Answers[k] = v
	}
	m.sessions[sessionID] = s
	return nil
}

func (m *MemoryStore) SaveAnswer(ctx context.Context, a Answer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.answers[a.SessionID] == nil {
		m.answers[a.SessionID] = map[string]Answer{}
	}
	m.answers[a.SessionID][a.QuestionID] = a
	return nil
}

func (m *MemoryStore) SessionAnswers(ctx context.Context, sessionID string) ([]Answer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Answer
	for _, a := range m.answers[sessionID] {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionID < out[j].QuestionID })
	return out, nil
}

func (m *MemoryStore) ListSessions(ctx context.Context, opts SessionListOpts) ([]Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	var out []Session
	for _, s := range m.sessions {
		if opts.Status != "" && s.Status != opts.Status {
			continue
		}
		out = append(out, cloneSession(s))
	}
	sort.Slice(out, func(i, j int) bool {
		return sessionSortTime(out[i]).After(sessionSortTime(out[j]))
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sessionSortTime(s Session) time.Time {
	if s.CompletedAt != nil {
		return *s.CompletedAt
	}
	return s.StartedAt
}

func (m *MemoryStore) DeleteSession(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	delete(m.sessions, id)
	delete(m.answers, id)
	return nil
}

func (m *MemoryStore) FinalizeSession(ctx context.Context, sessionID string, res *grading.Results) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	if s.Status != StatusActive {
		return Session{}, fmt.Errorf("session %s: %w", sessionID, ErrAlreadyFinalized)
	}

	completed := res.CompletedAt
	s.Status = StatusCompleted
	s.CompletedAt = &completed
	s.CorrectAnswers = res.Score
	s.TotalPoints = res.TotalPoints
	s.PointsEarned = res.PointsEarned
	s.ScorePercentage = res.Percentage
	s.DurationSec = res.DurationSec
	m.sessions[sessionID] = s

	if m.answers[sessionID] == nil {
		m.answers[sessionID] = map[string]Answer{}
	}
	for _, d := range res.Details {
		var selected *int
		if d.Answered {
			v := d.Selected
			selected = &v
		}
		m.answers[sessionID][d.QuestionID] = Answer{
			SessionID:       sessionID,
			QuestionID:      d.QuestionID,
			QuestionText:    d.QuestionText,
			Selected:        selected,
			Correct:         d.Correct,
			IsCorrect:       d.IsCorrect,
			PointsAvailable: d.PointsAvailable,
			PointsEarned:    d.PointsEarned,
			TimeSpentSec:    d.TimeSpentSec,
		}

		key := usageKey(d.QuestionID, s.Identity)
		u := m.usage[key]
		u.QuestionID = d.QuestionID
		u.Identity = s.Identity
		u.TimesUsed++
		u.LastUsed = completed
		if d.IsCorrect {
			u.CorrectCount++
		} else {
			u.IncorrectCount++
		}
		m.usage[key] = u
	}

	st, ok := m.stats[s.TestID]
	if !ok {
		st = TestStats{
			TestID:         s.TestID,
			TestTitle:      s.TestTitle,
			TimesTaken:     1,
			AverageScore:   res.Percentage,
			BestScore:      res.Percentage,
			WorstScore:     res.Percentage,
			TotalQuestions: res.TotalQuestions,
		}
	} else {
		st.TimesTaken++
		st.AverageScore = (st.AverageScore*float64(st.TimesTaken-1) + res.Percentage) / float64(st.TimesTaken)
		if res.Percentage > st.BestScore {
			st.BestScore = res.Percentage
		}
		if res.Percentage < st.WorstScore {
			st.WorstScore = res.Percentage
		}
	}
	st.LastTaken = &completed
	m.stats[s.TestID] = st

	return cloneSession(s), nil
}

func (m *MemoryStore) GetTestStats(ctx context.Context, testID string) (TestStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.stats[testID]
	if !ok {
		return TestStats{}, fmt.Errorf("test stats %s: %w", testID, ErrNotFound)
	}
	return st, nil
}

func (m *MemoryStore) GeneralStats(ctx context.Context) (GeneralStats, error) {
	m.mu.RLock()
	completed := make([]Session, 0)
	for _, s := range m.sessions {
		if s.Status == StatusCompleted {
			completed = append(completed, cloneSession(s))
		}
	}
	var gs GeneralStats
	for _, st := range m.stats {
		gs.TestStatistics = append(gs.TestStatistics, st)
	}
	m.mu.RUnlock()

	gs.SessionsCompleted = len(completed)
	for _, s := range completed {
		gs.AverageScore += s.ScorePercentage
	}
	if len(completed) > 0 {
		gs.AverageScore /= float64(len(completed))
	}
	sort.Slice(completed, func(i, j int) bool {
		return sessionSortTime(completed[i]).After(sessionSortTime(completed[j]))
	})
	if len(completed) > 5 {
		completed = completed[:5]
	}
	gs.RecentSessions = completed
	sort.Slice(gs.TestStatistics, func(i, j int) bool {
		return gs.TestStatistics[i].TimesTaken > gs.TestStatistics[j].TimesTaken
	})
	return gs, nil
}

func cloneSession(s Session) Session {
	out := s
	if s.QuestionIDs != nil {
		out.QuestionIDs = append([]string(nil), s.QuestionIDs...)
	}
	if s.Answers != nil {
		out.Answers = make(map[string]SubmittedAnswer, len(s.Answers))
		for k, v := range s.Answers {
			out.Answers[k] = v
		}
	}
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		out.CompletedAt = &t
	}
	return out
}
