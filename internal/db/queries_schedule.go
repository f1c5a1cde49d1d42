package db

import (
	"database/sql"
	"errors"
	"fmt"
)

const scheduleColumns = "id, name, cron_expr, prompt, enabled, COALESCE(last_run,''), created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(r rowScanner) (Schedule, error) {
	var s Schedule
	var enabled int
	if err := r.Scan(&s.ID, &s.Name, &s.CronExpr, &s.Prompt, &enabled, &s.LastRun, &s.CreatedAt); err != nil {
		return Schedule{}, err
	}
	s.Enabled = enabled == 1
	return s, nil
}

// ListSchedules returns all schedules, optionally only enabled ones.
func (d *DB) ListSchedules(enabledOnly bool) ([]Schedule, error) {
	q := "SELECT " + scheduleColumns + " FROM schedules"
	if enabledOnly {
		q += " WHERE enabled = 1"
	}
	q += " ORDER BY created_at ASC, id ASC"
	rows, err := d.conn.Query(q)
	if err != nil {
		return nil, fmt.Errorf("listing schedules: %w", err)
	}
	defer rows.Close()
	var out []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning schedule: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSchedule returns the schedule with the given name.
func (d *DB) GetSchedule(name string) (Schedule, error) {
	s, err := scanSchedule(d.conn.QueryRow("SELECT "+scheduleColumns+" FROM schedules WHERE name = ?", name))
	if errors.Is(err, sql.ErrNoRows) {
		return Schedule{}, fmt.Errorf("schedule %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return Schedule{}, fmt.Errorf("getting schedule: %w", err)
	}
	return s, nil
}

// CreateSchedule creates a new schedule and returns its ID. The cron
// expression is stored as given; callers validate it.
func (d *DB) CreateSchedule(name, cronExpr, prompt string) (int64, error) {
	res, err := d.conn.Exec(
		"INSERT INTO schedules (name, cron_expr, prompt) VALUES (?, ?, ?)",
		name, cronExpr, prompt,
	)
	if err != nil {
		return 0, fmt.Errorf("creating schedule: %w", err)
	}
	return res.LastInsertId()
}

// SetScheduleEnabled turns a schedule on or off by name.
func (d *DB) SetScheduleEnabled(name string, enabled bool) error {
	v := 0
	if enabled {
		v = 1
	}
	res, err := d.conn.Exec("UPDATE schedules SET enabled = ? WHERE name = ?", v, name)
	if err != nil {
		return fmt.Errorf("updating schedule %q: %w", name, err)
	}
	return requireRow(res, fmt.Sprintf("schedule %q", name))
}

// DeleteSchedule deletes a schedule by name.
func (d *DB) DeleteSchedule(name string) error {
	res, err := d.conn.Exec("DELETE FROM schedules WHERE name = ?", name)
	if err != nil {
		return fmt.Errorf("deleting schedule: %w", err)
	}
	return requireRow(res, fmt.Sprintf("schedule %q", name))
}

// RecordScheduleRun updates last_run to now for a schedule.
func (d *DB) RecordScheduleRun(id int64) error {
	_, err := d.conn.Exec(
		"UPDATE schedules SET last_run = datetime('now') WHERE id = ?", id,
	)
	if err != nil {
		return fmt.Errorf("recording schedule run: %w", err)
	}
	return nil
}
