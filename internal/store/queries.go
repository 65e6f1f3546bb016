package store

import (
	"database/sql"
	"fmt"
	"time"
)

const enabledKey = "enabled"

// Fixed-width UTC timestamps, so text order is time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Settings

// SetSetting stores value under key.
func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, value)
	return wrapErr("failed to set "+key, err)
}

// Setting returns the value stored under key and whether it was present.
func (s *Store) Setting(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapErr("failed to get "+key, err)
	}
	return value, true, nil
}

// SetEnabled persists whether the supervisor should run.
func (s *Store) SetEnabled(enabled bool) error {
	value := "false"
	if enabled {
		value = "true"
	}
	return s.SetSetting(enabledKey, value)
}

// Enabled reports the persisted enabled flag. A fresh database is enabled.
func (s *Store) Enabled() (bool, error) {
	value, ok, err := s.Setting(enabledKey)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return value == "true", nil
}

// Runs

// InsertRun records a finished interceptor run.
func (s *Store) InsertRun(run *Run) error {
	query := `
		INSERT OR REPLACE INTO runs
		(id, operation, command, exit_code, severity, warnings, errors, started_at, ended_at, summary)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.Exec(query,
		run.ID,
		run.Operation,
		run.Command,
		run.ExitCode,
		run.Severity,
		run.Warnings,
		run.Errors,
		run.StartedAt.UTC().Format(timeLayout),
		run.EndedAt.UTC().Format(timeLayout),
		run.Summary,
	)
	return wrapErr("failed to insert run "+run.ID, err)
}

// ListRuns returns the most recent runs, newest first. A limit of zero or
// less returns every run.
func (s *Store) ListRuns(limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, operation, command, exit_code, severity, warnings, errors, started_at, ended_at, summary
		FROM runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, wrapErr("failed to list runs", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		var run Run
		var startedAt, endedAt string
		var summary sql.NullString

		err := rows.Scan(
			&run.ID,
			&run.Operation,
			&run.Command,
			&run.ExitCode,
			&run.Severity,
			&run.Warnings,
			&run.Errors,
			&startedAt,
			&endedAt,
			&summary,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}

		if run.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("failed to parse started_at for %s: %w", run.ID, err)
		}
		if run.EndedAt, err = time.Parse(timeLayout, endedAt); err != nil {
			return nil, fmt.Errorf("failed to parse ended_at for %s: %w", run.ID, err)
		}
		run.Summary = summary.String

		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// Events

// InsertEvent journals a notification. It satisfies notify.EventStore.
func (s *Store) InsertEvent(at time.Time, source, severity, text string) error {
	_, err := s.db.Exec(
		`INSERT INTO events (at, source, severity, text) VALUES (?, ?, ?, ?)`,
		at.UTC().Format(timeLayout), source, severity, text,
	)
	return wrapErr("failed to insert event", err)
}

// ListEvents returns the most recent events, newest first. A limit of zero
// or less returns every event.
func (s *Store) ListEvents(limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.Query(`
		SELECT id, at, source, severity, text
		FROM events
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, wrapErr("failed to list events", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var ev Event
		var at string
		if err := rows.Scan(&ev.ID, &at, &ev.Source, &ev.Severity, &ev.Text); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if ev.At, err = time.Parse(timeLayout, at); err != nil {
			return nil, fmt.Errorf("failed to parse event time: %w", err)
		}
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// GetLastRun returns the most recent run, or nil when there is none.
func (s *Store) GetLastRun() (*Run, error) {
	runs, err := s.ListRuns(1)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, nil
	}
	return runs[0], nil
}

// CountRuns returns the number of recorded runs.
func (s *Store) CountRuns() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, wrapErr("failed to count runs", err)
	}
	return n, nil
}

// PruneHistory deletes runs that started, and events journaled, before
// cutoff. It returns how many rows of each it removed.
func (s *Store) PruneHistory(cutoff time.Time) (runs, events int64, err error) {
	at := cutoff.UTC().Format(timeLayout)

	res, err := s.db.Exec(`DELETE FROM runs WHERE started_at < ?`, at)
	if err != nil {
		return 0, 0, wrapErr("failed to prune runs", err)
	}
	runs, _ = res.RowsAffected()

	res, err = s.db.Exec(`DELETE FROM events WHERE at < ?`, at)
	if err != nil {
		return runs, 0, wrapErr("failed to prune events", err)
	}
	events, _ = res.RowsAffected()

	return runs, events, nil
}
