package reporter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/sweeney/asterisk-callflow/internal/correlator"
)

// Store appends every event to a call_events table so billing and
// reporting jobs can read finished calls back. It records what the engine
// reported; it is not engine state.
type Store struct {
	db      *sql.DB
	timeout time.Duration
}

var schemas = map[string][]string{
	"sqlite": {
		`CREATE TABLE IF NOT EXISTS call_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			call_id TEXT NOT NULL,
			merged_call_id TEXT NOT NULL DEFAULT '',
			caller TEXT NOT NULL,
			callee TEXT NOT NULL DEFAULT '',
			redirector TEXT NOT NULL DEFAULT '',
			dialed_number TEXT NOT NULL DEFAULT '',
			targets TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			occurred_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_call_events_call_id ON call_events(call_id)`,
	},
	"mysql": {
		`CREATE TABLE IF NOT EXISTS call_events (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			kind VARCHAR(32) NOT NULL,
			call_id VARCHAR(64) NOT NULL,
			merged_call_id VARCHAR(64) NOT NULL DEFAULT '',
			caller JSON NOT NULL,
			callee TEXT,
			redirector TEXT,
			dialed_number VARCHAR(64) NOT NULL DEFAULT '',
			targets TEXT,
			reason VARCHAR(64) NOT NULL DEFAULT '',
			occurred_at VARCHAR(40) NOT NULL,
			INDEX idx_call_id (call_id)
		)`,
	},
}

// OpenStore connects to driver ("sqlite" or "mysql") at dsn and creates the
// table if needed.
func OpenStore(driver, dsn string) (*Store, error) {
	schema, ok := schemas[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported store driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == "sqlite" {
		// one connection keeps ":memory:" databases shared and writes serial
		db.SetMaxOpenConns(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	return &Store{db: db, timeout: 5 * time.Second}, nil
}

func (s *Store) Handle(evt Event) error {
	caller, err := json.Marshal(evt.Caller)
	if err != nil {
		return fmt.Errorf("encode caller: %w", err)
	}
	callee, err := marshalOptional(evt.Callee)
	if err != nil {
		return err
	}
	redirector, err := marshalOptional(evt.Redirector)
	if err != nil {
		return err
	}
	targets := ""
	if len(evt.Targets) > 0 {
		b, err := json.Marshal(evt.Targets)
		if err != nil {
			return fmt.Errorf("encode targets: %w", err)
		}
		targets = string(b)
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO call_events
			(kind, call_id, merged_call_id, caller, callee, redirector, dialed_number, targets, reason, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.Kind, evt.CallID, evt.MergedCallID, string(caller), callee, redirector,
		evt.DialedNumber, targets, evt.Reason, evt.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert call event: %w", err)
	}
	return nil
}

// CallEvents returns the stored events of callID (as the new or the merged
// id of a transfer) in insertion order.
func (s *Store) CallEvents(ctx context.Context, callID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT kind, call_id, merged_call_id, caller, callee, redirector, dialed_number, targets, reason, occurred_at
		FROM call_events
		WHERE call_id = ? OR merged_call_id = ?
		ORDER BY id`, callID, callID)
	if err != nil {
		return nil, fmt.Errorf("query call events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			evt                                   Event
			caller                                string
			callee, redirector, targets, occurred sql.NullString
		)
		if err := rows.Scan(&evt.Kind, &evt.CallID, &evt.MergedCallID, &caller, &callee, &redirector,
			&evt.DialedNumber, &targets, &evt.Reason, &occurred); err != nil {
			return nil, fmt.Errorf("scan call event: %w", err)
		}
		if err := json.Unmarshal([]byte(caller), &evt.Caller); err != nil {
			return nil, fmt.Errorf("decode caller: %w", err)
		}
		if callee.String != "" {
			if err := json.Unmarshal([]byte(callee.String), &evt.Callee); err != nil {
				return nil, fmt.Errorf("decode callee: %w", err)
			}
		}
		if redirector.String != "" {
			if err := json.Unmarshal([]byte(redirector.String), &evt.Redirector); err != nil {
				return nil, fmt.Errorf("decode redirector: %w", err)
			}
		}
		if targets.String != "" {
			if err := json.Unmarshal([]byte(targets.String), &evt.Targets); err != nil {
				return nil, fmt.Errorf("decode targets: %w", err)
			}
		}
		if t, err := time.Parse(time.RFC3339Nano, occurred.String); err == nil {
			evt.Timestamp = t
		}
		events = append(events, evt)
	}
	return events, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func marshalOptional(id *correlator.CallerID) (string, error) {
	if id == nil {
		return "", nil
	}
	b, err := json.Marshal(id)
	if err != nil {
		return "", fmt.Errorf("encode party: %w", err)
	}
	return string(b), nil
}
