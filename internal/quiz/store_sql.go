package quiz

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quizforge/quizforge/internal/grading"
	syncx "github.com/quizforge/quizforge/internal/sync"
)

// SQLStore implements Store over database/sql for both sqlite and postgres.
type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ---- Bank ingestion ----

// LoadBank reconciles one bank document with the questions table. A bank
// whose declared question count is unchanged is skipped entirely (coarse
// idempotence guard, not a content hash). Otherwise the bank's previous
// questions are replaced; a question ID already owned by another bank is
// updated in place so IDs stay globally unique.
func (s *SQLStore) LoadBank(ctx context.Context, b Bank) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var existingCount int
	err = tx.QueryRowContext(ctx,
		`SELECT question_count FROM question_banks WHERE id=$1`, b.ID).Scan(&existingCount)
	switch {
	case err == nil:
		if existingCount == len(b.Questions) {
			return 0, nil
		}
	case errors.Is(err, sql.ErrNoRows):
		// first load
	default:
		return 0, err
	}

	now := time.Now().Unix()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO question_banks (id,title,description,file_path,question_count,loaded_at,last_updated)
		 VALUES ($1,$2,$3,$4,$5,$6,$6)
		 ON CONFLICT (id) DO UPDATE SET title=EXCLUDED.title, description=EXCLUDED.description,
		   file_path=EXCLUDED.file_path, question_count=EXCLUDED.question_count,
		   last_updated=EXCLUDED.last_updated`,
		b.ID, b.Title, b.Description, b.FilePath, len(b.Questions), now); err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE bank_id=$1`, b.ID); err != nil {
		return 0, err
	}

	loaded := 0
	for _, q := range b.Questions {
		oj, err := json.Marshal(q.Options)
		if err != nil {
			return 0, err
		}
		kj, err := json.Marshal(q.Keywords)
		if err != nil {
			return 0, err
		}
		sj := ""
		if q.Source != nil {
			buf, err := json.Marshal(q.Source)
			if err != nil {
				return 0, err
			}
			sj = string(buf)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO questions (id,bank_id,question_text,options_json,correct_answer,explanation,
			   difficulty,category,keywords_json,points,estimated_time_sec,source_json,created_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
			 ON CONFLICT (id) DO UPDATE SET bank_id=EXCLUDED.bank_id,
			   question_text=EXCLUDED.question_text, options_json=EXCLUDED.options_json,
			   correct_answer=EXCLUDED.correct_answer, explanation=EXCLUDED.explanation,
			   difficulty=EXCLUDED.difficulty, category=EXCLUDED.category,
			   keywords_json=EXCLUDED.keywords_json, points=EXCLUDED.points,
			   estimated_time_sec=EXCLUDED.estimated_time_sec, source_json=EXCLUDED.source_json`,
			q.ID, b.ID, q.Text, string(oj), q.CorrectAnswer, q.Explanation,
			string(q.Difficulty), q.Category, string(kj), q.Points, q.EstimatedTimeSec, sj, now); err != nil {
			return 0, err
		}
		loaded++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return loaded, nil
}

func (s *SQLStore) DeleteBank(ctx context.Context, bankID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	var filePath string
	if err := tx.QueryRowContext(ctx,
		`SELECT file_path FROM question_banks WHERE id=$1`, bankID).Scan(&filePath); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("bank %s: %w", bankID, ErrNotFound)
		}
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM questions WHERE bank_id=$1`, bankID); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM question_banks WHERE id=$1`, bankID); err != nil {
		return "", err
	}
	return filePath, tx.Commit()
}

func (s *SQLStore) ListBanks(ctx context.Context) ([]BankInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,title,description,file_path,question_count,loaded_at,last_updated
		 FROM question_banks ORDER BY last_updated DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []BankInfo
	for rows.Next() {
		var b BankInfo
		var loaded, updated int64
		if err := rows.Scan(&b.ID, &b.Title, &b.Description, &b.FilePath, &b.QuestionCount, &loaded, &updated); err != nil {
			return nil, err
		}
		b.LoadedAt = time.Unix(loaded, 0)
		b.LastUpdated = time.Unix(updated, 0)
		out = append(out, b)
	}
	return out, rows.Err()
}

// ---- Selection ----

const questionCols = `q.id, q.bank_id, q.question_text, q.options_json, q.correct_answer,
	q.explanation, q.difficulty, q.category, q.keywords_json, q.points, q.estimated_time_sec, q.source_json`

// SelectQuestions filters the pool by criteria (AND semantics, absent fields
// match everything) and orders by anti-repetition priority for the identity:
// least-used first, then least-recently-used, then a uniform random
// tie-break. Fewer matches than limit is a short result, not an error.
func (s *SQLStore) SelectQuestions(ctx context.Context, c Criteria, identity string, limit int) ([]Question, error) {
	if limit <= 0 {
		return nil, nil
	}
	if identity == "" {
		identity = AnonymousIdentity
	}

	args := []interface{}{identity}
	var sb strings.Builder
	sb.WriteString(`SELECT ` + questionCols + `
		FROM questions q
		LEFT JOIN question_usage u ON u.question_id = q.id AND u.identity = $1
		WHERE 1=1`)

	if c.Difficulty != "" && c.Difficulty != DifficultyMixed {
		args = append(args, string(c.Difficulty))
		fmt.Fprintf(&sb, " AND q.difficulty = $%d", len(args))
	}
	if len(c.Categories) > 0 {
		ph := make([]string, 0, len(c.Categories))
		for _, cat := range c.Categories {
			args = append(args, cat)
			ph = append(ph, fmt.Sprintf("$%d", len(args)))
		}
		sb.WriteString(" AND q.category IN (" + strings.Join(ph, ",") + ")")
	}
	if c.Keyword != "" {
		args = append(args, "%"+c.Keyword+"%")
		fmt.Fprintf(&sb, " AND q.keywords_json LIKE $%d", len(args))
	}
	if len(c.ExcludeIDs) > 0 {
		ph := make([]string, 0, len(c.ExcludeIDs))
		for _, id := range c.ExcludeIDs {
			args = append(args, id)
			ph = append(ph, fmt.Sprintf("$%d", len(args)))
		}
		sb.WriteString(" AND q.id NOT IN (" + strings.Join(ph, ",") + ")")
	}

	args = append(args, limit)
	fmt.Fprintf(&sb, `
		ORDER BY COALESCE(u.times_used, 0) ASC, COALESCE(u.last_used, 0) ASC, RANDOM()
		LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQuestions(rows)
}

// SelectFailed returns questions the identity has answered incorrectly at
// least once, most-failed first.
func (s *SQLStore) SelectFailed(ctx context.Context, identity string, limit int) ([]Question, error) {
	if limit <= 0 {
		return nil, nil
	}
	if identity == "" {
		identity = AnonymousIdentity
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+questionCols+`
		 FROM questions q
		 JOIN question_usage u ON u.question_id = q.id
		 WHERE u.identity = $1 AND u.incorrect_count > 0
		 ORDER BY u.incorrect_count DESC, u.last_used ASC, RANDOM()
		 LIMIT $2`, identity, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQuestions(rows)
}

// SelectFailedFromSession restricts the candidate set to questions answered
// incorrectly within one named session, instead of the identity's whole
// history.
func (s *SQLStore) SelectFailedFromSession(ctx context.Context, sessionID string, limit int) ([]Question, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+questionCols+`
		 FROM questions q
		 JOIN answers a ON a.question_id = q.id
		 WHERE a.session_id = $1 AND a.is_correct = 0
		 ORDER BY a.question_id
		 LIMIT $2`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanQuestions(rows)
}

// GetQuestions fetches by ID, preserving the order of ids in the result.
func (s *SQLStore) GetQuestions(ctx context.Context, ids []string) ([]Question, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	args := make([]interface{}, 0, len(ids))
	ph := make([]string, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
		ph = append(ph, fmt.Sprintf("$%d", len(args)))
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+questionCols+` FROM questions q WHERE q.id IN (`+strings.Join(ph, ",")+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	qs, err := scanQuestions(rows)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]Question, len(qs))
	for _, q := range qs {
		byID[q.ID] = q
	}
	out := make([]Question, 0, len(ids))
	for _, id := range ids {
		if q, ok := byID[id]; ok {
			out = append(out, q)
		}
	}
	return out, nil
}

func (s *SQLStore) Categories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT category FROM questions WHERE category <> '' ORDER BY category`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) PoolStats(ctx context.Context) (PoolStats, error) {
	st := PoolStats{ByDifficulty: map[string]int{}, ByCategory: map[string]int{}}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM questions`).Scan(&st.TotalQuestions); err != nil {
		return st, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM question_banks`).Scan(&st.TotalBanks); err != nil {
		return st, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT difficulty, COUNT(*) FROM questions GROUP BY difficulty`)
	if err != nil {
		return st, err
	}
	defer rows.Close()
	for rows.Next() {
		var d string
		var n int
		if err := rows.Scan(&d, &n); err != nil {
			return st, err
		}
		st.ByDifficulty[d] = n
	}
	if err := rows.Err(); err != nil {
		return st, err
	}
	crows, err := s.db.QueryContext(ctx,
		`SELECT category, COUNT(*) FROM questions WHERE category <> '' GROUP BY category`)
	if err != nil {
		return st, err
	}
	defer crows.Close()
	for crows.Next() {
		var c string
		var n int
		if err := crows.Scan(&c, &n); err != nil {
			return st, err
		}
		st.ByCategory[c] = n
	}
	return st, crows.Err()
}

// ---- Generated tests ----

func (s *SQLStore) SaveGeneratedTest(ctx context.Context, t GeneratedTest) error {
	cj, err := json.Marshal(t.Criteria)
	if err != nil {
		return err
	}
	qj, err := json.Marshal(t.QuestionIDs)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO generated_tests (id,test_type,title,criteria_json,question_ids_json,identity,passing_grade,created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		t.ID, string(t.Type), t.Title, string(cj), string(qj), t.Identity, t.PassingGrade, t.CreatedAt.Unix())
	return err
}

func (s *SQLStore) GetGeneratedTest(ctx context.Context, id string) (GeneratedTest, error) {
	var t GeneratedTest
	var typ, cj, qj string
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id,test_type,title,criteria_json,question_ids_json,identity,passing_grade,created_at
		 FROM generated_tests WHERE id=$1`, id).
		Scan(&t.ID, &typ, &t.Title, &cj, &qj, &t.Identity, &t.PassingGrade, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return GeneratedTest{}, fmt.Errorf("test %s: %w", id, ErrNotFound)
		}
		return GeneratedTest{}, err
	}
	t.Type = TestType(typ)
	t.CreatedAt = time.Unix(created, 0)
	if err := json.Unmarshal([]byte(cj), &t.Criteria); err != nil {
		return GeneratedTest{}, err
	}
	if err := json.Unmarshal([]byte(qj), &t.QuestionIDs); err != nil {
		return GeneratedTest{}, err
	}
	return t, nil
}

// ---- Sessions ----

func (s *SQLStore) CreateSession(ctx context.Context, sess Session) error {
	qj, err := json.Marshal(sess.QuestionIDs)
	if err != nil {
		return err
	}
	aj := []byte("{}")
	if len(sess.Answers) > 0 {
		if aj, err = json.Marshal(sess.Answers); err != nil {
			return err
		}
	}
	if sess.Identity == "" {
		sess.Identity = AnonymousIdentity
	}
	if sess.Status == "" {
		sess.Status = StatusActive
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id,test_id,test_title,identity,status,test_type,started_at,total_questions,current_index,question_ids_json,answers_json)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		sess.ID, sess.TestID, sess.TestTitle, sess.Identity, string(sess.Status), string(sess.TestType),
		sess.StartedAt.Unix(), sess.TotalQuestions, sess.CurrentIndex, string(qj), string(aj))
	return err
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id,test_id,test_title,identity,status,test_type,started_at,completed_at,total_questions,
		   current_index,question_ids_json,answers_json,correct_answers,total_points,points_earned,
		   score_percentage,duration_sec
		 FROM sessions WHERE id=$1`, id)

	var sess Session
	var status, typ, qj, aj string
	var started int64
	var completed sql.NullInt64
	if err := row.Scan(&sess.ID, &sess.TestID, &sess.TestTitle, &sess.Identity, &status, &typ,
		&started, &completed, &sess.TotalQuestions, &sess.CurrentIndex, &qj, &aj,
		&sess.CorrectAnswers, &sess.TotalPoints, &sess.PointsEarned, &sess.ScorePercentage,
		&sess.DurationSec); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
		}
		return Session{}, err
	}
	sess.Status = SessionStatus(status)
	sess.TestType = TestType(typ)
	sess.StartedAt = time.Unix(started, 0)
	if completed.Valid {
		t := time.Unix(completed.Int64, 0)
		sess.CompletedAt = &t
	}
	if err := json.Unmarshal([]byte(qj), &sess.QuestionIDs); err != nil {
		return Session{}, err
	}
	if err := json.Unmarshal([]byte(aj), &sess.Answers); err != nil {
		sess.Answers = map[string]SubmittedAnswer{}
	}
	return sess, nil
}

func (s *SQLStore) SaveProgress(ctx context.Context, sessionID string, index int, answers map[string]SubmittedAnswer) error {
	aj, err := json.Marshal(answers)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET current_index=$1, answers_json=$2 WHERE id=$3 AND status=$4`,
		index, string(aj), sessionID, string(StatusActive))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		sess, err := s.GetSession(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess.Status == StatusCompleted {
			return fmt.Errorf("session %s: %w", sessionID, ErrAlreadyFinalized)
		}
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// SaveAnswer writes a provisional answer row on submission; grading detail
// overwrites it at finalize.
func (s *SQLStore) SaveAnswer(ctx context.Context, a Answer) error {
	var selected sql.NullInt64
	if a.Selected != nil {
		selected = sql.NullInt64{Int64: int64(*a.Selected), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO answers (session_id,question_id,question_text,selected,correct,is_correct,
		   points_available,points_earned,time_spent_sec,answered_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		 ON CONFLICT (session_id, question_id) DO UPDATE SET
		   selected=EXCLUDED.selected, time_spent_sec=EXCLUDED.time_spent_sec,
		   answered_at=EXCLUDED.answered_at`,
		a.SessionID, a.QuestionID, a.QuestionText, selected, a.Correct, boolToInt(a.IsCorrect),
		a.PointsAvailable, a.PointsEarned, a.TimeSpentSec, time.Now().Unix())
	return err
}

func (s *SQLStore) SessionAnswers(ctx context.Context, sessionID string) ([]Answer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id,question_id,question_text,selected,correct,is_correct,
		   points_available,points_earned,time_spent_sec
		 FROM answers WHERE session_id=$1 ORDER BY question_id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Answer
	for rows.Next() {
		var a Answer
		var selected sql.NullInt64
		var isCorrect int
		if err := rows.Scan(&a.SessionID, &a.QuestionID, &a.QuestionText, &selected, &a.Correct,
			&isCorrect, &a.PointsAvailable, &a.PointsEarned, &a.TimeSpentSec); err != nil {
			return nil, err
		}
		if selected.Valid {
			v := int(selected.Int64)
			a.Selected = &v
		}
		a.IsCorrect = isCorrect != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) ListSessions(ctx context.Context, opts SessionListOpts) ([]Session, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	args := []interface{}{}
	q := `SELECT id FROM sessions`
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		q += ` WHERE status=$1`
	}
	args = append(args, limit)
	q += fmt.Sprintf(` ORDER BY COALESCE(completed_at, started_at) DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make([]Session, 0, len(ids))
	for _, id := range ids {
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, nil
}

func (s *SQLStore) DeleteSession(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id=$1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM answers WHERE session_id=$1`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- Finalize ----

// FinalizeSession commits grading results as one unit of work: graded answer
// rows, per-question usage upserts, the status flip, the test_stats rollup
// and the history event. The status flip is a compare-and-set on
// active→completed, so concurrent finalizes of the same session serialize
// and the loser sees ErrAlreadyFinalized.
func (s *SQLStore) FinalizeSession(ctx context.Context, sessionID string, res *grading.Results) (Session, error) {
	sess, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Session{}, err
	}
	defer tx.Rollback()

	cas, err := tx.ExecContext(ctx,
		`UPDATE sessions SET status=$1, completed_at=$2, correct_answers=$3, total_points=$4,
		   points_earned=$5, score_percentage=$6, duration_sec=$7
		 WHERE id=$8 AND status=$9`,
		string(StatusCompleted), res.CompletedAt.Unix(), res.Score, res.TotalPoints,
		res.PointsEarned, res.Percentage, res.DurationSec, sessionID, string(StatusActive))
	if err != nil {
		return Session{}, err
	}
	n, err := cas.RowsAffected()
	if err != nil {
		return Session{}, err
	}
	if n == 0 {
		return Session{}, fmt.Errorf("session %s: %w", sessionID, ErrAlreadyFinalized)
	}

	now := res.CompletedAt.Unix()
	for _, d := range res.Details {
		var selected sql.NullInt64
		if d.Answered {
			selected = sql.NullInt64{Int64: int64(d.Selected), Valid: true}
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO answers (session_id,question_id,question_text,selected,correct,is_correct,
			   points_available,points_earned,time_spent_sec,answered_at)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
			 ON CONFLICT (session_id, question_id) DO UPDATE SET
			   question_text=EXCLUDED.question_text, selected=EXCLUDED.selected,
			   correct=EXCLUDED.correct, is_correct=EXCLUDED.is_correct,
			   points_available=EXCLUDED.points_available, points_earned=EXCLUDED.points_earned,
			   time_spent_sec=EXCLUDED.time_spent_sec`,
			sessionID, d.QuestionID, d.QuestionText, selected, d.Correct, boolToInt(d.IsCorrect),
			d.PointsAvailable, d.PointsEarned, d.TimeSpentSec, now); err != nil {
			return Session{}, err
		}

		correctInc, incorrectInc := 0, 1
		if d.IsCorrect {
			correctInc, incorrectInc = 1, 0
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO question_usage (question_id,identity,times_used,last_used,correct_count,incorrect_count,updated_at)
			 VALUES ($1,$2,1,$3,$4,$5,$3)
			 ON CONFLICT (question_id, identity) DO UPDATE SET
			   times_used=question_usage.times_used+1, last_used=EXCLUDED.last_used,
			   correct_count=question_usage.correct_count+EXCLUDED.correct_count,
			   incorrect_count=question_usage.incorrect_count+EXCLUDED.incorrect_count,
			   updated_at=EXCLUDED.updated_at`,
			d.QuestionID, sess.Identity, now, correctInc, incorrectInc); err != nil {
			return Session{}, err
		}
	}

	if err := rollupTestStats(ctx, tx, sess.TestID, sess.TestTitle, res.Percentage, res.TotalQuestions, now); err != nil {
		return Session{}, err
	}

	data, _ := json.Marshal(map[string]interface{}{
		"test_id": sess.TestID,
		"score":   res.Percentage,
	})
	if err := syncx.Append(ctx, tx, syncx.Event{
		Type:     syncx.EventSessionFinalized,
		Key:      sessionID,
		DataJSON: string(data),
	}); err != nil {
		return Session{}, err
	}

	if err := tx.Commit(); err != nil {
		return Session{}, err
	}
	return s.GetSession(ctx, sessionID)
}

// rollupTestStats applies the incremental per-test aggregate. It runs inside
// the finalize transaction; the event_log row written alongside it is the
// raw history a reconciliation job could rebuild this from.
func rollupTestStats(ctx context.Context, tx *sql.Tx, testID, title string, score float64, totalQuestions int, now int64) error {
	var timesTaken int
	var avg, best, worst float64
	err := tx.QueryRowContext(ctx,
		`SELECT times_taken, average_score, best_score, worst_score FROM test_stats WHERE test_id=$1`,
		testID).Scan(&timesTaken, &avg, &best, &worst)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err = tx.ExecContext(ctx,
			`INSERT INTO test_stats (test_id,test_title,times_taken,average_score,best_score,worst_score,total_questions,last_taken,updated_at)
			 VALUES ($1,$2,1,$3,$3,$3,$4,$5,$5)`,
			testID, title, score, totalQuestions, now)
		return err
	case err != nil:
		return err
	}

	timesTaken++
	avg = (avg*float64(timesTaken-1) + score) / float64(timesTaken)
	if score > best {
		best = score
	}
	if score < worst {
		worst = score
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE test_stats SET times_taken=$1, average_score=$2, best_score=$3, worst_score=$4,
		   last_taken=$5, updated_at=$5 WHERE test_id=$6`,
		timesTaken, avg, best, worst, now, testID)
	return err
}

// ---- Statistics ----

func (s *SQLStore) GetTestStats(ctx context.Context, testID string) (TestStats, error) {
	var st TestStats
	var last sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT test_id,test_title,times_taken,average_score,best_score,worst_score,total_questions,last_taken
		 FROM test_stats WHERE test_id=$1`, testID).
		Scan(&st.TestID, &st.TestTitle, &st.TimesTaken, &st.AverageScore, &st.BestScore,
			&st.WorstScore, &st.TotalQuestions, &last)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TestStats{}, fmt.Errorf("test stats %s: %w", testID, ErrNotFound)
		}
		return TestStats{}, err
	}
	if last.Valid {
		t := time.Unix(last.Int64, 0)
		st.LastTaken = &t
	}
	return st, nil
}

func (s *SQLStore) GeneralStats(ctx context.Context) (GeneralStats, error) {
	var gs GeneralStats
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(AVG(score_percentage), 0) FROM sessions WHERE status=$1`,
		string(StatusCompleted)).Scan(&gs.SessionsCompleted, &gs.AverageScore); err != nil {
		return gs, err
	}

	recent, err := s.ListSessions(ctx, SessionListOpts{Limit: 5, Status: StatusCompleted})
	if err != nil {
		return gs, err
	}
	gs.RecentSessions = recent

	rows, err := s.db.QueryContext(ctx,
		`SELECT test_id,test_title,times_taken,average_score,best_score,worst_score,total_questions,last_taken
		 FROM test_stats ORDER BY times_taken DESC`)
	if err != nil {
		return gs, err
	}
	defer rows.Close()
	for rows.Next() {
		var st TestStats
		var last sql.NullInt64
		if err := rows.Scan(&st.TestID, &st.TestTitle, &st.TimesTaken, &st.AverageScore,
			&st.BestScore, &st.WorstScore, &st.TotalQuestions, &last); err != nil {
			return gs, err
		}
		if last.Valid {
			t := time.Unix(last.Int64, 0)
			st.LastTaken = &t
		}
		gs.TestStatistics = append(gs.TestStatistics, st)
	}
	return gs, rows.Err()
}

// ---- helpers ----

func scanQuestions(rows *sql.Rows) ([]Question, error) {
	var out []Question
	for rows.Next() {
		var q Question
		var difficulty, oj, kj, sj string
		if err := rows.Scan(&q.ID, &q.BankID, &q.Text, &oj, &q.CorrectAnswer, &q.Explanation,
			&difficulty, &q.Category, &kj, &q.Points, &q.EstimatedTimeSec, &sj); err != nil {
			return nil, err
		}
		q.Difficulty = Difficulty(difficulty)
		if err := json.Unmarshal([]byte(oj), &q.Options); err != nil {
			return nil, err
		}
		if kj != "" {
			if err := json.Unmarshal([]byte(kj), &q.Keywords); err != nil {
				return nil, err
			}
		}
		if sj != "" {
			var src SourceInfo
			if err := json.Unmarshal([]byte(sj), &src); err == nil {
				q.Source = &src
			}
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
