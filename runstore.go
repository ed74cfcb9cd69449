package worker

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"permitcheck.dev/worker/park"
)

// RunRecord is a stored run.
type RunRecord struct {
	ID            string
	Park          string
	Lodges        []string
	TeamSize      int
	CheckRetained bool
	DateFrom      string
	DateTo        string
	Status        string
	WindowsFound  int
	ErrorMessage  string
	CreatedAt     string
}

// RunStore records runs, their cells and windows.
type RunStore struct {
	DB *sql.DB
}

// NewRunStore creates a RunStore on an already migrated database.
func NewRunStore(db *sql.DB) *RunStore {
	return &RunStore{DB: db}
}

// CreateRun creates a pending run record.
func (s *RunStore) CreateRun(ctx context.Context, plan *Plan, req Request) error {
	names := make([]string, len(plan.Lodges))
	for i, l := range plan.Lodges {
		names[i] = l.Name
	}
	lodges, err := json.Marshal(names)
	if err != nil {
		return err
	}
	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO runs (id, park, lodges, team_size, check_retained, date_from, date_to, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
	`, req.RunID, plan.Variant.Park().String(), string(lodges), req.TeamSize, req.CheckRetained,
		req.Range.Start.Format(time.DateOnly), rangeEnd(req.Range).Format(time.DateOnly), StatusPending)
	return err
}

func rangeEnd(r DateRange) time.Time {
	if r.End.IsZero() {
		return r.Start
	}
	return r.End
}

// UpdateRun updates a run status.
func (s *RunStore) UpdateRun(ctx context.Context, runID, status string, windowsFound int, errorMsg string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE runs SET
			status = ?,
			windows_found = ?,
			error_message = ?,
			completed_at = CASE WHEN ? IN ('completed', 'failed') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = ?
	`, status, windowsFound, errorMsg, status, runID)
	return err
}

// SaveCells stores every result of the matrix in one transaction.
func (s *RunStore) SaveCells(ctx context.Context, runID string, m Matrix) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	saved := 0
	for pos, row := range m.Rows {
		for i, r := range row.Results {
			errMsg := ""
			if r.Err != nil {
				errMsg = r.Err.Error()
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO cells (id, run_id, position, lodge_id, lodge_name, check_date, status, percentage, summary, error_message)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			`, uuid.New().String(), runID, pos, row.LodgeID, row.LodgeName, m.Dates[i].Format(time.DateOnly),
				r.Status.String(), r.Percentage.String(), r.Line(), errMsg)
			if err != nil {
				return 0, fmt.Errorf("save cell %s %s: %w", row.LodgeName, m.Dates[i].Format(time.DateOnly), err)
			}
			saved++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return saved, nil
}

// SaveWindows stores the feasible windows of a run in one transaction. A
// start already stored for the run is kept.
func (s *RunStore) SaveWindows(ctx context.Context, runID string, windows []Window) (int, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	saved := 0
	for _, w := range windows {
		lodges, err := json.Marshal(w.Lodges)
		if err != nil {
			return 0, err
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO windows (id, run_id, start_date, checkout_date, lodges)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`, uuid.New().String(), runID, w.Start.Format(time.DateOnly), w.Checkout.Format(time.DateOnly), string(lodges))
		if err != nil {
			return 0, fmt.Errorf("save window %s: %w", w.Start.Format(time.DateOnly), err)
		}
		if n, err := res.RowsAffected(); err == nil {
			saved += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return saved, nil
}

// Process runs a plan and records it from pending to completed or failed.
func (s *RunStore) Process(ctx context.Context, c *Checker, plan *Plan, req Request) (*Report, error) {
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	if err := s.CreateRun(ctx, plan, req); err != nil {
		return nil, fmt.Errorf("create run: %w", err)
	}
	if err := s.UpdateRun(ctx, req.RunID, StatusRunning, 0, ""); err != nil {
		return nil, fmt.Errorf("update run running: %w", err)
	}

	report, err := c.Run(ctx, plan, req)
	if err != nil {
		s.fail(context.WithoutCancel(ctx), req.RunID, err)
		return nil, fmt.Errorf("run: %w", err)
	}

	// Recording must survive an interrupted run.
	saveCtx := context.WithoutCancel(ctx)
	cells, err := s.SaveCells(saveCtx, report.RunID, report.Matrix)
	if err != nil {
		s.fail(saveCtx, report.RunID, err)
		return nil, fmt.Errorf("save cells: %w", err)
	}
	windows, err := s.SaveWindows(saveCtx, report.RunID, report.Windows)
	if err != nil {
		s.fail(saveCtx, report.RunID, err)
		return nil, fmt.Errorf("save windows: %w", err)
	}
	if err := s.UpdateRun(saveCtx, report.RunID, StatusCompleted, len(report.Windows), ""); err != nil {
		return nil, fmt.Errorf("update run completed: %w", err)
	}

	slog.Info("run recorded", "run_id", report.RunID, "cells_saved", cells, "windows_saved", windows)
	return report, nil
}

// fail marks a run failed. The cause is already being returned, so a
// failing update is only logged.
func (s *RunStore) fail(ctx context.Context, runID string, cause error) {
	if err := s.UpdateRun(ctx, runID, StatusFailed, 0, cause.Error()); err != nil {
		slog.Error("failed to mark run failed", "run_id", runID, "cause", cause, "error", err)
	}
}

// RecentRuns lists the latest runs, newest first.
func (s *RunStore) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	limit = min(limit, MaxHistoryLimit)

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, park, lodges, team_size, check_retained, date_from, date_to,
		       status, windows_found, error_message, COALESCE(created_at, '')
		FROM runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var lodges string
		if err := rows.Scan(&r.ID, &r.Park, &lodges, &r.TeamSize, &r.CheckRetained, &r.DateFrom, &r.DateTo,
			&r.Status, &r.WindowsFound, &r.ErrorMessage, &r.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(lodges), &r.Lodges); err != nil {
			return nil, fmt.Errorf("decode lodges of run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// WindowsForRun returns the stored windows of a run.
func (s *RunStore) WindowsForRun(ctx context.Context, runID string) ([]Window, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT start_date, checkout_date, lodges FROM windows WHERE run_id = ? ORDER BY start_date
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []Window
	for rows.Next() {
		var start, checkout, lodges string
		if err := rows.Scan(&start, &checkout, &lodges); err != nil {
			return nil, err
		}
		w := Window{Index: len(windows)}
		if w.Start, err = time.ParseInLocation(time.DateOnly, start, park.Taipei); err != nil {
			return nil, fmt.Errorf("window start of run %s: %w", runID, err)
		}
		if w.Checkout, err = time.ParseInLocation(time.DateOnly, checkout, park.Taipei); err != nil {
			return nil, fmt.Errorf("window checkout of run %s: %w", runID, err)
		}
		if err := json.Unmarshal([]byte(lodges), &w.Lodges); err != nil {
			return nil, fmt.Errorf("window lodges of run %s: %w", runID, err)
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}
