package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mlcopy/internal/database"
	"mlcopy/internal/domain"
	"mlcopy/internal/events"
	"mlcopy/internal/metrics"
	"mlcopy/internal/models"
	"mlcopy/internal/replicator"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrNoTargets      = errors.New("job has no destination targets")
	ErrUnknownAccount = errors.New("unknown account")
	ErrNotResumable   = errors.New("job has no paused targets matching the request")
)

// Enqueuer schedules a created job for execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// ReplicationService owns the job lifecycle: validation, target
// resolution, ledger creation and dispatch. Execution itself is the
// orchestrator's job; the service wires the two together via Run.
type ReplicationService struct {
	ledger   domain.Ledger
	accounts domain.AccountStore
	market   replicator.MarketplaceAPI
	catalog  *replicator.CatalogResolver
	orch     *replicator.Orchestrator
	queue    Enqueuer
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewReplicationService(ledger domain.Ledger, accounts domain.AccountStore, market replicator.MarketplaceAPI, catalog *replicator.CatalogResolver, orch *replicator.Orchestrator, queue Enqueuer, eventBus domain.EventPublisher, logger *zerolog.Logger) *ReplicationService {
	return &ReplicationService{
		ledger:   ledger,
		accounts: accounts,
		market:   market,
		catalog:  catalog,
		orch:     orch,
		queue:    queue,
		eventBus: eventBus,
		logger:   logger,
	}
}

// ListingJobRequest asks for a source listing to be republished on other
// accounts.
type ListingJobRequest struct {
	SourceAccount  string   `json:"source_account"`
	SourceItemID   string   `json:"source_item_id"`
	TargetAccounts []string `json:"target_accounts"`
	Initiator      string   `json:"initiator,omitempty"`
}

// CompatJobRequest asks for a compatibility table to be copied onto
// destination listings, named explicitly or located by SKU.
type CompatJobRequest struct {
	SourceAccount string          `json:"source_account"`
	SourceItemID  string          `json:"source_item_id"`
	Mode          string          `json:"mode"`
	Targets       []models.Target `json:"targets,omitempty"`
	SKUs          []string        `json:"skus,omitempty"`
	Initiator     string          `json:"initiator,omitempty"`
}

// JobView is a job with its per-target ledger rows.
type JobView struct {
	Job     models.ReplicationJob  `json:"job"`
	Targets []models.TargetOutcome `json:"targets"`
}

// CreateListingJob validates the request, writes the job to the ledger
// and enqueues it. Listing targets carry the source item id; the copy's
// new id lands in the outcome's produced_id when the target settles.
func (s *ReplicationService) CreateListingJob(ctx context.Context, req ListingJobRequest) (*models.ReplicationJob, error) {
	if req.SourceAccount == "" || req.SourceItemID == "" {
		return nil, errors.New("source_account and source_item_id are required")
	}
	if len(req.TargetAccounts) == 0 {
		return nil, ErrNoTargets
	}

	if err := s.checkAccount(ctx, req.SourceAccount); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(req.TargetAccounts))
	targets := make([]models.Target, 0, len(req.TargetAccounts))
	for _, account := range req.TargetAccounts {
		if account == req.SourceAccount {
			return nil, fmt.Errorf("target account %s is the source account", account)
		}
		if _, dup := seen[account]; dup {
			continue
		}
		seen[account] = struct{}{}
		if err := s.checkAccount(ctx, account); err != nil {
			return nil, err
		}
		targets = append(targets, models.Target{Account: account, ItemID: req.SourceItemID})
	}

	job := &models.ReplicationJob{
		ID:            uuid.NewString(),
		Kind:          models.KindListing,
		SourceAccount: req.SourceAccount,
		SourceItemID:  req.SourceItemID,
		Status:        models.JobPending,
		Initiator:     req.Initiator,
	}
	return s.createAndEnqueue(ctx, job, targets)
}

// CreateCompatJob validates the request, resolves SKU targets when no
// explicit targets are given, writes the job and enqueues it.
func (s *ReplicationService) CreateCompatJob(ctx context.Context, req CompatJobRequest) (*models.ReplicationJob, *replicator.CatalogResult, error) {
	if req.SourceAccount == "" || req.SourceItemID == "" {
		return nil, nil, errors.New("source_account and source_item_id are required")
	}
	if req.Mode != models.ModeAdd && req.Mode != models.ModeReplace {
		return nil, nil, fmt.Errorf("mode must be %q or %q", models.ModeAdd, models.ModeReplace)
	}
	if err := s.checkAccount(ctx, req.SourceAccount); err != nil {
		return nil, nil, err
	}

	var (
		targets    []models.Target
		resolution *replicator.CatalogResult
	)

	switch {
	case len(req.Targets) > 0:
		seen := make(map[models.Target]struct{}, len(req.Targets))
		for _, t := range req.Targets {
			if t.Account == "" || t.ItemID == "" {
				return nil, nil, errors.New("explicit targets need both account and item_id")
			}
			if _, dup := seen[t]; dup {
				continue
			}
			seen[t] = struct{}{}
			if err := s.checkAccount(ctx, t.Account); err != nil {
				return nil, nil, err
			}
			targets = append(targets, t)
		}
	case len(req.SKUs) > 0:
		accounts, err := s.accounts.ListAccounts(ctx, true)
		if err != nil {
			return nil, nil, fmt.Errorf("list accounts: %w", err)
		}
		resolution = s.catalog.Resolve(ctx, accounts, req.SKUs, req.SourceAccount)
		targets = resolution.Targets()
	default:
		return nil, nil, errors.New("either targets or skus must be provided")
	}

	if len(targets) == 0 {
		return nil, resolution, ErrNoTargets
	}

	job := &models.ReplicationJob{
		ID:            uuid.NewString(),
		Kind:          models.KindCompatibility,
		SourceAccount: req.SourceAccount,
		SourceItemID:  req.SourceItemID,
		Mode:          req.Mode,
		Status:        models.JobPending,
		Initiator:     req.Initiator,
	}
	created, err := s.createAndEnqueue(ctx, job, targets)
	return created, resolution, err
}

func (s *ReplicationService) createAndEnqueue(ctx context.Context, job *models.ReplicationJob, targets []models.Target) (*models.ReplicationJob, error) {
	if err := s.ledger.CreateJob(ctx, job, targets); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	metrics.IncJobsCreated(job.Kind)
	_ = s.eventBus.PublishJSON(events.EventJobCreated, events.JobEventPayload{
		JobID:         job.ID,
		Kind:          job.Kind,
		SourceAccount: job.SourceAccount,
		SourceItemID:  job.SourceItemID,
		Status:        job.Status,
		TotalTargets:  job.TotalTargets,
		At:            time.Now(),
	})

	if err := s.queue.Enqueue(ctx, job.ID); err != nil {
		// The row is durable; the dispatcher's poll loop will find it.
		s.logger.Warn().Err(err).Str("job_id", job.ID).Msg("Enqueue failed, job left for polling")
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("kind", job.Kind).
		Int("targets", job.TotalTargets).
		Msg("Job created")
	return job, nil
}

// Run executes a queued job. Satisfies the dispatcher's JobRunner.
func (s *ReplicationService) Run(ctx context.Context, jobID string) error {
	job, err := s.ledger.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	switch job.Status {
	case models.JobSuccess, models.JobError, models.JobPartial:
		// Already settled; a stale queue entry is harmless.
		return nil
	}

	return s.orch.RunJob(ctx, job)
}

// ResumeRequest re-runs paused targets of a listing job with package
// dimensions filled in. An empty Account resumes every paused target.
type ResumeRequest struct {
	JobID      string                   `json:"job_id"`
	Account    string                   `json:"account,omitempty"`
	Dimensions models.PackageDimensions `json:"dimensions"`
}

// Resume reopens paused targets and re-runs them synchronously.
func (s *ReplicationService) Resume(ctx context.Context, req ResumeRequest) (*JobView, error) {
	if req.Dimensions.Empty() {
		return nil, errors.New("package dimensions are required to resume")
	}

	job, err := s.ledger.GetJob(ctx, req.JobID)
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", req.JobID, err)
	}
	if job.Kind != models.KindListing {
		return nil, errors.New("only listing jobs can pause for additional info")
	}

	paused, err := s.ledger.PausedTargets(ctx, job.ID)
	if err != nil {
		return nil, fmt.Errorf("load paused targets: %w", err)
	}

	var resumed int
	for _, p := range paused {
		if req.Account != "" && p.Account != req.Account {
			continue
		}
		target := models.Target{Account: p.Account, ItemID: p.ItemID}
		if err := s.orch.ResumeTarget(ctx, job, target, req.Dimensions); err != nil {
			if errors.Is(err, database.ErrNotPaused) {
				continue
			}
			return nil, err
		}
		resumed++
	}
	if resumed == 0 {
		targets, err := s.ledger.GetJobTargets(ctx, job.ID)
		if err != nil {
			return nil, fmt.Errorf("load targets for job %s: %w", job.ID, err)
		}
		for _, tg := range targets {
			if req.Account != "" && tg.Account != req.Account {
				continue
			}
			// Resubmitting dimensions for a target that already
			// succeeded is a no-op, not a conflict.
			if tg.Status == models.TargetSuccess {
				return s.GetJob(ctx, job.ID)
			}
		}
		return nil, ErrNotResumable
	}

	return s.GetJob(ctx, job.ID)
}

// PreviewSKU runs the SKU fan-out without creating a job, so operators
// can inspect what a compatibility job would target.
func (s *ReplicationService) PreviewSKU(ctx context.Context, skus []string, sourceAccount string) (*replicator.CatalogResult, error) {
	if len(skus) == 0 {
		return nil, errors.New("at least one sku is required")
	}
	accounts, err := s.accounts.ListAccounts(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return s.catalog.Resolve(ctx, accounts, skus, sourceAccount), nil
}

// ItemPreview is a summary of a listing, enough for an operator to
// confirm they picked the right source before creating a job.
type ItemPreview struct {
	ItemID             string  `json:"item_id"`
	Title              string  `json:"title"`
	Price              float64 `json:"price"`
	CurrencyID         string  `json:"currency_id,omitempty"`
	CategoryID         string  `json:"category_id,omitempty"`
	Status             string  `json:"status,omitempty"`
	IsUserProduct      bool    `json:"is_user_product"`
	Pictures           int     `json:"pictures"`
	HasCompatibilities bool    `json:"has_compatibilities"`
	CompatProducts     int     `json:"compat_products"`
	DescriptionLength  int     `json:"description_length"`
}

// PreviewItem fetches a listing summary from the marketplace.
func (s *ReplicationService) PreviewItem(ctx context.Context, account, itemID string) (*ItemPreview, error) {
	if account == "" || itemID == "" {
		return nil, errors.New("account and item id are required")
	}
	if err := s.checkAccount(ctx, account); err != nil {
		return nil, err
	}

	item, err := s.market.GetItem(ctx, account, itemID)
	if err != nil {
		return nil, fmt.Errorf("fetch item %s: %w", itemID, err)
	}

	preview := &ItemPreview{
		ItemID:        item.ID,
		Title:         item.Title,
		Price:         item.Price,
		CurrencyID:    item.CurrencyID,
		CategoryID:    item.CategoryID,
		Status:        item.Status,
		IsUserProduct: item.UserProductID != "",
		Pictures:      len(item.Pictures),
	}

	if desc, err := s.market.GetItemDescription(ctx, account, itemID); err == nil {
		preview.DescriptionLength = len(desc.PlainText)
	}
	// A listing without a compatibility table reads back as nil.
	if compat, err := s.market.GetItemCompatibilities(ctx, account, itemID); err == nil && compat != nil {
		preview.HasCompatibilities = compat.HasProducts()
		preview.CompatProducts = len(compat.Products)
	}
	return preview, nil
}

// GetJob returns the job with its target rows.
func (s *ReplicationService) GetJob(ctx context.Context, id string) (*JobView, error) {
	job, err := s.ledger.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	targets, err := s.ledger.GetJobTargets(ctx, id)
	if err != nil {
		return nil, err
	}
	return &JobView{Job: *job, Targets: targets}, nil
}

func (s *ReplicationService) checkAccount(ctx context.Context, slug string) error {
	acc, err := s.accounts.GetAccount(ctx, slug)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownAccount, slug)
		}
		return err
	}
	if !acc.Active {
		return fmt.Errorf("account %s is disabled", slug)
	}
	return nil
}
