// Package bank parses question bank and static test documents. Both formats
// normalize into the canonical quiz types at this boundary; nothing past it
// sees raw JSON shapes or legacy field aliases.
package bank

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/quizforge/quizforge/internal/quiz"
)

// rawQuestion carries every field name a question has ever been written
// with. Aliases are collapsed in normalize.
type rawQuestion struct {
	ID               string           `json:"id"`
	Text             string           `json:"question"`
	Options          []string         `json:"options"`
	CorrectAnswer    int              `json:"correct_answer"`
	Explanation      string           `json:"explanation"`
	Difficulty       string           `json:"difficulty"`
	Category         string           `json:"category"`
	Keywords         []string         `json:"keywords"`
	Points           float64          `json:"points"`
	EstimatedTimeSec int              `json:"estimated_time_seconds"`
	Source           *quiz.SourceInfo `json:"source_info"`
}

type rawBank struct {
	ID          string        `json:"bank_id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Questions   []rawQuestion `json:"questions"`

	// legacy alias, ignored beyond parse
	CreatedDate string `json:"created_date"`
}

type rawTest struct {
	ID          string        `json:"test_id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	Difficulty  string        `json:"difficulty"`
	Questions   []rawQuestion `json:"questions"`

	EstimatedDuration int     `json:"estimated_duration"`
	PassingGrade      float64 `json:"passing_grade"`

	// legacy aliases
	TimeLimitMinutes int     `json:"time_limit_minutes"`
	PassingScore     float64 `json:"passing_score"`
	CreatedDate      string  `json:"created_date"`
}

// ValidateBankFileName enforces the upload naming contract.
func ValidateBankFileName(name string) error {
	base := filepath.Base(name)
	if !strings.HasSuffix(base, ".json") {
		return fmt.Errorf("bank file %q must end in .json", base)
	}
	if !strings.HasPrefix(base, "bank_") {
		return fmt.Errorf("bank file %q must start with bank_", base)
	}
	return nil
}

// ParseBank decodes and normalizes one bank document. The bank ID defaults
// to the file stem when the document omits it.
func ParseBank(data []byte, filePath string) (quiz.Bank, error) {
	var raw rawBank
	if err := json.Unmarshal(data, &raw); err != nil {
		return quiz.Bank{}, fmt.Errorf("parse bank %s: %w", filepath.Base(filePath), err)
	}
	id := raw.ID
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(filePath), ".json")
	}
	b := quiz.Bank{
		ID:          id,
		Title:       raw.Title,
		Description: raw.Description,
		FilePath:    filePath,
	}
	if b.Title == "" {
		b.Title = id
	}
	for i, rq := range raw.Questions {
		q, err := normalize(rq, fmt.Sprintf("%s_q%d", id, i+1))
		if err != nil {
			return quiz.Bank{}, fmt.Errorf("bank %s question %d: %w", id, i+1, err)
		}
		q.BankID = id
		b.Questions = append(b.Questions, q)
	}
	return b, nil
}

// ParseTest decodes and normalizes one static test document.
func ParseTest(data []byte, filePath string) (quiz.Test, error) {
	var raw rawTest
	if err := json.Unmarshal(data, &raw); err != nil {
		return quiz.Test{}, fmt.Errorf("parse test %s: %w", filepath.Base(filePath), err)
	}
	id := raw.ID
	if id == "" {
		id = strings.TrimSuffix(filepath.Base(filePath), ".json")
	}
	t := quiz.Test{
		ID:                   id,
		Title:                raw.Title,
		Description:          raw.Description,
		Category:             raw.Category,
		Difficulty:           quiz.Difficulty(raw.Difficulty),
		EstimatedDurationMin: raw.EstimatedDuration,
		PassingGrade:         raw.PassingGrade,
	}
	if t.Title == "" {
		t.Title = id
	}
	if t.EstimatedDurationMin == 0 {
		t.EstimatedDurationMin = raw.TimeLimitMinutes
	}
	if t.PassingGrade == 0 {
		t.PassingGrade = raw.PassingScore
	}
	for i, rq := range raw.Questions {
		q, err := normalize(rq, fmt.Sprintf("%s_q%d", id, i+1))
		if err != nil {
			return quiz.Test{}, fmt.Errorf("test %s question %d: %w", id, i+1, err)
		}
		t.Questions = append(t.Questions, q)
	}
	return t, nil
}

func normalize(rq rawQuestion, fallbackID string) (quiz.Question, error) {
	if len(rq.Options) != 4 {
		return quiz.Question{}, fmt.Errorf("want 4 options, got %d", len(rq.Options))
	}
	if rq.CorrectAnswer < 0 || rq.CorrectAnswer > 3 {
		return quiz.Question{}, fmt.Errorf("correct_answer %d out of range", rq.CorrectAnswer)
	}
	if rq.Text == "" {
		return quiz.Question{}, fmt.Errorf("empty question text")
	}
	q := quiz.Question{
		ID:               rq.ID,
		Text:             rq.Text,
		Options:          rq.Options,
		CorrectAnswer:    rq.CorrectAnswer,
		Explanation:      rq.Explanation,
		Difficulty:       quiz.Difficulty(rq.Difficulty),
		Category:         rq.Category,
		Keywords:         rq.Keywords,
		Points:           rq.Points,
		EstimatedTimeSec: rq.EstimatedTimeSec,
		Source:           rq.Source,
	}
	if q.ID == "" {
		q.ID = fallbackID
	}
	if q.Difficulty == "" {
		q.Difficulty = quiz.DifficultyMedium
	}
	if q.Points <= 0 {
		q.Points = 1
	}
	return q, nil
}

// LoadBanksDir parses every bank_*.json in dir. A missing dir is an empty
// result, not an error; a malformed file fails the whole load so a bad
// upload is caught at startup rather than half-applied.
func LoadBanksDir(dir string) ([]quiz.Bank, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "bank_*.json"))
	if err != nil {
		return nil, err
	}
	var banks []quiz.Bank
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		b, err := ParseBank(data, p)
		if err != nil {
			return nil, err
		}
		banks = append(banks, b)
	}
	return banks, nil
}

// LoadTestsDir parses every *.json in dir that is not a bank document.
func LoadTestsDir(dir string) ([]quiz.Test, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return nil, err
	}
	var tests []quiz.Test
	for _, p := range paths {
		if strings.HasPrefix(filepath.Base(p), "bank_") {
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		t, err := ParseTest(data, p)
		if err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, nil
}
