package models

import "time"

// Job kinds.
const (
	KindListing       = "listing"
	KindCompatibility = "compatibility"
)

// Compatibility copy modes.
const (
	ModeAdd     = "add"
	ModeReplace = "replace"
)

// Job statuses.
const (
	JobPending    = "pending"
	JobInProgress = "in_progress"
	JobSuccess    = "success"
	JobPartial    = "partial"
	JobError      = "error"
)

// Target statuses.
const (
	TargetPending       = "pending"
	TargetInProgress    = "in_progress"
	TargetSuccess       = "success"
	TargetError         = "error"
	TargetNeedsMoreInfo = "needs_additional_info"
)

// Error kinds recorded on failed targets.
const (
	ErrKindValidation     = "validation"
	ErrKindRateLimited    = "rate_limited"
	ErrKindTransient      = "transient"
	ErrKindMissingInfo    = "missing_info"
	ErrKindPartialReplace = "partial_replace"
	ErrKindLedger         = "ledger"
)

const (
	// DispatchQueueSize is the in-memory fallback queue capacity of the dispatcher.
	DispatchQueueSize = 256

	// DefaultTargetConcurrency bounds simultaneous targets per job.
	DefaultTargetConcurrency = 4

	// DefaultTokenCacheTTL is how long account access tokens live in the redis cache.
	DefaultTokenCacheTTL = 4 * time.Hour

	// AdminSessionTTL is the admin session lifetime.
	AdminSessionTTL = 24 * time.Hour

	// DefaultListLimit caps ledger listing endpoints.
	DefaultListLimit = 50
	MaxListLimit     = 200
)
