package syncx

import (
	"context"
	"database/sql"
	"time"
)

// Event is one append-only history record. Finalized sessions are logged
// here with their test ID and score so the incremental test_stats aggregate
// can be rebuilt from raw history if drift is ever detected.
type Event struct {
	Offset    int64
	Type      string
	Key       string // natural key, e.g. session ID
	DataJSON  string
	CreatedAt int64
}

const EventSessionFinalized = "SessionFinalized"

// Execer lets Append run inside either a *sql.DB or a *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func Append(ctx context.Context, ex Execer, e Event) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO event_log (typ, key, data, created_at) VALUES ($1,$2,$3,$4)`,
		e.Type, e.Key, e.DataJSON, time.Now().Unix())
	return err
}
