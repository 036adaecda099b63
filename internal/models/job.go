package models

import "time"

// ReplicationJob is the durable record of one replication request.
// Owned by the orchestrator for its lifetime; read-only to everyone else.
type ReplicationJob struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	SourceAccount string    `json:"source_account"`
	SourceItemID  string    `json:"source_item_id"`
	Mode          string    `json:"mode,omitempty"`
	Status        string    `json:"status"`
	Initiator     string    `json:"initiator,omitempty"`
	TotalTargets  int       `json:"total_targets"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Target identifies one destination a job acts on.
type Target struct {
	Account string `json:"account"`
	ItemID  string `json:"item_id"`
}

// TargetOutcome is the per-destination ledger row of a job.
type TargetOutcome struct {
	JobID      string    `json:"job_id"`
	Account    string    `json:"account"`
	ItemID     string    `json:"item_id"`
	Status     string    `json:"status"`
	ProducedID string    `json:"produced_id,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	Attempts   int       `json:"attempts"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Terminal reports whether the outcome can no longer change within this job.
// needs_additional_info is a pause, not a terminal state, but it still
// counts as settled for aggregate recompute purposes.
func (o TargetOutcome) Terminal() bool {
	return o.Status == TargetSuccess || o.Status == TargetError
}

// Settled reports terminal-or-paused.
func (o TargetOutcome) Settled() bool {
	return o.Terminal() || o.Status == TargetNeedsMoreInfo
}

// AggregateStatus derives a job status from its children. It is a pure
// function of the multiset of target statuses: in_progress while any child
// is unsettled, success/error only when unanimous, partial otherwise.
func AggregateStatus(targets []TargetOutcome) string {
	if len(targets) == 0 {
		return JobInProgress
	}

	var success, failed, settled int
	for _, t := range targets {
		if !t.Settled() {
			return JobInProgress
		}
		settled++
		switch t.Status {
		case TargetSuccess:
			success++
		case TargetError:
			failed++
		}
	}

	switch {
	case success == settled:
		return JobSuccess
	case failed == settled:
		return JobError
	default:
		return JobPartial
	}
}

// PackageDimensions carries the shipping dimensions supplied on resume.
type PackageDimensions struct {
	HeightCM float64 `json:"height"`
	WidthCM  float64 `json:"width"`
	LengthCM float64 `json:"length"`
	WeightG  float64 `json:"weight"`
}

// Empty reports whether no dimension was supplied.
func (d PackageDimensions) Empty() bool {
	return d.HeightCM == 0 && d.WidthCM == 0 && d.LengthCM == 0 && d.WeightG == 0
}
