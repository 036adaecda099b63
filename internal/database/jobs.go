package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mlcopy/internal/models"
)

// CreateJob inserts the job row and one pending outcome row per target in
// a single transaction. The ledger row must be durably visible before any
// external call for the job is attempted, so callers create first and
// dispatch after.
func (db *DB) CreateJob(ctx context.Context, job *models.ReplicationJob, targets []models.Target) error {
	if job.ID == "" {
		return errors.New("job id is required")
	}
	if len(targets) == 0 {
		return errors.New("at least one target is required")
	}

	now := time.Now()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	job.TotalTargets = len(targets)

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        INSERT INTO replication_jobs (id, kind, source_account, source_item_id, mode, status, initiator, total_targets, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `,
		job.ID,
		job.Kind,
		job.SourceAccount,
		job.SourceItemID,
		job.Mode,
		job.Status,
		job.Initiator,
		job.TotalTargets,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	for _, t := range targets {
		_, err = tx.ExecContext(ctx, `
            INSERT INTO job_targets (job_id, account, item_id, status, updated_at)
            VALUES (?, ?, ?, ?, ?)
        `, job.ID, t.Account, t.ItemID, models.TargetPending, now)
		if err != nil {
			return fmt.Errorf("insert target %s/%s: %w", t.Account, t.ItemID, err)
		}
	}

	return tx.Commit()
}

// GetJob returns the job row.
func (db *DB) GetJob(ctx context.Context, id string) (*models.ReplicationJob, error) {
	var job models.ReplicationJob
	err := db.db.QueryRowContext(ctx, `
        SELECT id, kind, source_account, source_item_id, mode, status, initiator, total_targets, created_at, updated_at
        FROM replication_jobs WHERE id = ?
    `, id).Scan(
		&job.ID,
		&job.Kind,
		&job.SourceAccount,
		&job.SourceItemID,
		&job.Mode,
		&job.Status,
		&job.Initiator,
		&job.TotalTargets,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// GetJobTargets returns every outcome row of a job.
func (db *DB) GetJobTargets(ctx context.Context, jobID string) ([]models.TargetOutcome, error) {
	rows, err := db.db.QueryContext(ctx, `
        SELECT job_id, account, item_id, status, produced_id, error_kind, last_error, attempts, updated_at
        FROM job_targets WHERE job_id = ?
        ORDER BY account, item_id
    `, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []models.TargetOutcome
	for rows.Next() {
		var t models.TargetOutcome
		err := rows.Scan(
			&t.JobID,
			&t.Account,
			&t.ItemID,
			&t.Status,
			&t.ProducedID,
			&t.ErrorKind,
			&t.LastError,
			&t.Attempts,
			&t.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

// MarkTargetInProgress moves a pending target into processing. A row
// already in progress is accepted so a recovered run can pick up targets
// a crashed run left behind; settled rows are refused.
func (db *DB) MarkTargetInProgress(ctx context.Context, jobID string, target models.Target) error {
	res, err := db.db.ExecContext(ctx, `
        UPDATE job_targets SET status = ?, updated_at = ?
        WHERE job_id = ? AND account = ? AND item_id = ? AND status = ?
    `, models.TargetInProgress, time.Now(), jobID, target.Account, target.ItemID, models.TargetPending)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	current, err := db.getTarget(ctx, jobID, target.Account, target.ItemID)
	if err != nil {
		return err
	}
	if current.Status == models.TargetInProgress {
		return nil
	}
	return fmt.Errorf("target %s/%s is %s, not pending", target.Account, target.ItemID, current.Status)
}

// RecordTargetResult writes a target's settled state for the current
// episode. Terminal outcomes are never overwritten: re-recording an
// identical terminal status is a no-op, anything else fails with
// ErrTerminalOutcome. Attempts accumulate across episodes. Safe under
// concurrent calls from sibling targets of the same job.
func (db *DB) RecordTargetResult(ctx context.Context, outcome models.TargetOutcome) error {
	res, err := db.db.ExecContext(ctx, `
        UPDATE job_targets
        SET status = ?, produced_id = ?, error_kind = ?, last_error = ?, attempts = attempts + ?, updated_at = ?
        WHERE job_id = ? AND account = ? AND item_id = ? AND status NOT IN (?, ?)
    `,
		outcome.Status,
		outcome.ProducedID,
		outcome.ErrorKind,
		outcome.LastError,
		outcome.Attempts,
		time.Now(),
		outcome.JobID,
		outcome.Account,
		outcome.ItemID,
		models.TargetSuccess,
		models.TargetError,
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	current, err := db.getTarget(ctx, outcome.JobID, outcome.Account, outcome.ItemID)
	if err != nil {
		return err
	}
	if current.Status == outcome.Status {
		// Idempotent re-record of the same terminal state.
		return nil
	}
	return fmt.Errorf("%w: %s/%s is %s", ErrTerminalOutcome, outcome.Account, outcome.ItemID, current.Status)
}

// ReopenTargetForResume starts a new episode on a paused target. Only
// needs_additional_info rows can be reopened; terminal siblings stay put.
func (db *DB) ReopenTargetForResume(ctx context.Context, jobID string, target models.Target) error {
	res, err := db.db.ExecContext(ctx, `
        UPDATE job_targets SET status = ?, error_kind = '', last_error = '', updated_at = ?
        WHERE job_id = ? AND account = ? AND item_id = ? AND status = ?
    `, models.TargetPending, time.Now(), jobID, target.Account, target.ItemID, models.TargetNeedsMoreInfo)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		current, err := db.getTarget(ctx, jobID, target.Account, target.ItemID)
		if err != nil {
			return err
		}
		if current.Status == models.TargetSuccess {
			// Resubmitting data for an already-successful target is a no-op.
			return nil
		}
		return fmt.Errorf("%w: %s/%s is %s", ErrNotPaused, target.Account, target.ItemID, current.Status)
	}
	return nil
}

// PausedTargets returns the needs_additional_info rows of a job.
func (db *DB) PausedTargets(ctx context.Context, jobID string) ([]models.TargetOutcome, error) {
	targets, err := db.GetJobTargets(ctx, jobID)
	if err != nil {
		return nil, err
	}
	var paused []models.TargetOutcome
	for _, t := range targets {
		if t.Status == models.TargetNeedsMoreInfo {
			paused = append(paused, t)
		}
	}
	return paused, nil
}

func (db *DB) getTarget(ctx context.Context, jobID, account, itemID string) (*models.TargetOutcome, error) {
	var t models.TargetOutcome
	err := db.db.QueryRowContext(ctx, `
        SELECT job_id, account, item_id, status, produced_id, error_kind, last_error, attempts, updated_at
        FROM job_targets WHERE job_id = ? AND account = ? AND item_id = ?
    `, jobID, account, itemID).Scan(
		&t.JobID,
		&t.Account,
		&t.ItemID,
		&t.Status,
		&t.ProducedID,
		&t.ErrorKind,
		&t.LastError,
		&t.Attempts,
		&t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateJobStatus sets the job status directly. Used for the initial
// pending -> in_progress transition at dispatch time.
func (db *DB) UpdateJobStatus(ctx context.Context, id, status string) error {
	_, err := db.db.ExecContext(ctx, `
        UPDATE replication_jobs SET status = ?, updated_at = ? WHERE id = ?
    `, status, time.Now(), id)
	return err
}

// RecomputeJobStatus derives the job status from its current children and
// persists it. Counts are never maintained separately; the children are
// the single source of truth.
func (db *DB) RecomputeJobStatus(ctx context.Context, id string) (string, error) {
	targets, err := db.GetJobTargets(ctx, id)
	if err != nil {
		return "", err
	}
	status := models.AggregateStatus(targets)
	if err := db.UpdateJobStatus(ctx, id, status); err != nil {
		return "", err
	}
	return status, nil
}

// JobFilter narrows ListJobs output.
type JobFilter struct {
	Kind   string
	Status string
	Limit  int
	Offset int
}

// ListJobs returns job rows newest first.
func (db *DB) ListJobs(ctx context.Context, filter JobFilter) ([]models.ReplicationJob, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultListLimit
	}
	if limit > models.MaxListLimit {
		limit = models.MaxListLimit
	}

	query := `
        SELECT id, kind, source_account, source_item_id, mode, status, initiator, total_targets, created_at, updated_at
        FROM replication_jobs WHERE 1=1
    `
	args := []any{}
	if filter.Kind != "" {
		query += " AND kind = ?"
		args = append(args, filter.Kind)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.ReplicationJob
	for rows.Next() {
		var job models.ReplicationJob
		err := rows.Scan(
			&job.ID,
			&job.Kind,
			&job.SourceAccount,
			&job.SourceItemID,
			&job.Mode,
			&job.Status,
			&job.Initiator,
			&job.TotalTargets,
			&job.CreatedAt,
			&job.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListPendingJobs returns jobs that were created but never dispatched,
// oldest first. The dispatcher polls these to recover work queued before
// a crash. Stuck in_progress rows are left for operators to inspect.
func (db *DB) ListPendingJobs(ctx context.Context, limit int) ([]models.ReplicationJob, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.db.QueryContext(ctx, `
        SELECT id, kind, source_account, source_item_id, mode, status, initiator, total_targets, created_at, updated_at
        FROM replication_jobs WHERE status = ? ORDER BY created_at ASC LIMIT ?
    `, models.JobPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []models.ReplicationJob
	for rows.Next() {
		var job models.ReplicationJob
		err := rows.Scan(
			&job.ID,
			&job.Kind,
			&job.SourceAccount,
			&job.SourceItemID,
			&job.Mode,
			&job.Status,
			&job.Initiator,
			&job.TotalTargets,
			&job.CreatedAt,
			&job.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
