package storage

import (
	"fmt"
	"time"

	"github.com/petervdpas/onair/internal/show"
)

// ShowRecord is one archived show.
type ShowRecord struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	StartedAt string `json:"started_at"`
	EndedAt   string `json:"ended_at,omitempty"`
}

// CallRecord is one archived caller outcome.
type CallRecord struct {
	ID         int64  `json:"id"`
	ShowID     int64  `json:"show_id"`
	CallerID   string `json:"caller_id"`
	Name       string `json:"name"`
	Contact    string `json:"contact,omitempty"`
	Notes      string `json:"notes,omitempty"`
	Priority   bool   `json:"priority"`
	JoinedAt   string `json:"joined_at"`
	ResolvedAt string `json:"resolved_at"`
	Outcome    string `json:"outcome"`
}

const timeLayout = "2006-01-02 15:04:05"

// RecordShowStart inserts a show row and returns its id.
func (d *DB) RecordShowStart(name string, at time.Time) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	res, err := d.db.Exec(
		`INSERT INTO shows (name, started_at) VALUES (?, ?)`,
		name, at.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("record show start: %w", err)
	}
	return res.LastInsertId()
}

// RecordShowEnd stamps the show's end time.
func (d *DB) RecordShowEnd(showID int64, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(
		`UPDATE shows SET ended_at = ? WHERE id = ?`,
		at.UTC().Format(timeLayout), showID,
	)
	if err != nil {
		return fmt.Errorf("record show end: %w", err)
	}
	return nil
}

// ArchiveCaller writes a caller's final outcome to the call log.
func (d *DB) ArchiveCaller(showID int64, c show.CallerView, outcome string, at time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	joined := time.UnixMilli(c.JoinedAt).UTC().Format(timeLayout)
	_, err := d.db.Exec(`
		INSERT INTO call_log (show_id, caller_id, name, contact, notes, priority, joined_at, resolved_at, outcome)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		showID, c.ID, c.Name, c.Contact, c.Notes, boolToInt(c.Priority),
		joined, at.UTC().Format(timeLayout), outcome,
	)
	if err != nil {
		return fmt.Errorf("archive caller: %w", err)
	}
	return nil
}

// Shows lists archived shows, newest first.
func (d *DB) Shows(limit int) ([]ShowRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.Query(`
		SELECT id, name, started_at, COALESCE(ended_at, '')
		FROM shows ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ShowRecord
	for rows.Next() {
		var r ShowRecord
		if err := rows.Scan(&r.ID, &r.Name, &r.StartedAt, &r.EndedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// CallLog lists archived callers for one show, in archive order.
func (d *DB) CallLog(showID int64) ([]CallRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rows, err := d.db.Query(`
		SELECT id, show_id, caller_id, name, contact, notes, priority, joined_at, resolved_at, outcome
		FROM call_log WHERE show_id = ? ORDER BY id`, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallRecord
	for rows.Next() {
		var r CallRecord
		var prio int
		if err := rows.Scan(&r.ID, &r.ShowID, &r.CallerID, &r.Name, &r.Contact, &r.Notes, &prio, &r.JoinedAt, &r.ResolvedAt, &r.Outcome); err != nil {
			return nil, err
		}
		r.Priority = prio != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
