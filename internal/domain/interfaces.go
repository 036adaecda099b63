package domain

import (
	"context"
	"time"

	"mlcopy/internal/models"
)

// Ledger is the durable record of replication jobs and their per-target
// outcomes. The job row must exist before any external mutation starts;
// target results are written as they settle, never batched.
type Ledger interface {
	CreateJob(ctx context.Context, job *models.ReplicationJob, targets []models.Target) error
	GetJob(ctx context.Context, id string) (*models.ReplicationJob, error)
	GetJobTargets(ctx context.Context, jobID string) ([]models.TargetOutcome, error)
	MarkTargetInProgress(ctx context.Context, jobID string, target models.Target) error
	RecordTargetResult(ctx context.Context, outcome models.TargetOutcome) error
	ReopenTargetForResume(ctx context.Context, jobID string, target models.Target) error
	PausedTargets(ctx context.Context, jobID string) ([]models.TargetOutcome, error)
	UpdateJobStatus(ctx context.Context, id, status string) error
	RecomputeJobStatus(ctx context.Context, id string) (string, error)
}

// AccountStore knows the connected seller accounts and their credentials.
type AccountStore interface {
	GetAccount(ctx context.Context, slug string) (*models.Account, error)
	ListAccounts(ctx context.Context, activeOnly bool) ([]models.Account, error)
	UpdateAccountTokens(ctx context.Context, slug, accessToken, refreshToken string, expiresAt time.Time) error
}

// TokenCache is a read-through cache for account access tokens.
type TokenCache interface {
	Get(ctx context.Context, account string) (string, error)
	Set(ctx context.Context, account, token string, ttl time.Duration) error
	Delete(ctx context.Context, account string) error
}

// EventPublisher fans lifecycle events out to in-process subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Alerter delivers operator-facing alerts for conditions that must not
// drown in regular logs, ledger write failures above all.
type Alerter interface {
	Alert(ctx context.Context, subject, detail string)
}

// JobRunner executes a queued job. Implemented by the replication service
// and consumed by the dispatcher.
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}
