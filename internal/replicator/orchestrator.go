package replicator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"mlcopy/internal/database"
	"mlcopy/internal/domain"
	"mlcopy/internal/events"
	"mlcopy/internal/meli"
	"mlcopy/internal/metrics"
	"mlcopy/internal/models"

	"github.com/rs/zerolog"
)

// Orchestrator drives a job across its targets. Targets run in parallel
// under a bounded pool, each one isolated: a failure settles its own
// ledger row and never aborts its siblings.
type Orchestrator struct {
	ledger      domain.Ledger
	api         MarketplaceAPI
	copier      *ListingCopier
	resolver    *Resolver
	alerter     domain.Alerter
	bus         domain.EventPublisher
	logger      *zerolog.Logger
	concurrency int
}

func NewOrchestrator(ledger domain.Ledger, api MarketplaceAPI, alerter domain.Alerter, bus domain.EventPublisher, logger *zerolog.Logger, concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = models.DefaultTargetConcurrency
	}
	return &Orchestrator{
		ledger:      ledger,
		api:         api,
		copier:      NewListingCopier(api, logger),
		resolver:    NewResolver(api),
		alerter:     alerter,
		bus:         bus,
		logger:      logger,
		concurrency: concurrency,
	}
}

// RunJob executes every unsettled target of the job and recomputes the
// aggregate status when the last one settles.
func (o *Orchestrator) RunJob(ctx context.Context, job *models.ReplicationJob) error {
	targets, err := o.ledger.GetJobTargets(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("load targets for job %s: %w", job.ID, err)
	}

	if err := o.ledger.UpdateJobStatus(ctx, job.ID, models.JobInProgress); err != nil {
		return fmt.Errorf("mark job %s in progress: %w", job.ID, err)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, o.concurrency)

	for _, outcome := range targets {
		if outcome.Settled() {
			continue
		}
		target := models.Target{Account: outcome.Account, ItemID: outcome.ItemID}

		wg.Add(1)
		go func(target models.Target) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			o.runTarget(ctx, job, target)
		}(target)
	}
	wg.Wait()

	return o.finishJob(ctx, job)
}

// ResumeTarget re-runs a single paused target with the supplied package
// dimensions. Only listing targets can pause, so the resume path is
// always a listing copy.
func (o *Orchestrator) ResumeTarget(ctx context.Context, job *models.ReplicationJob, target models.Target, dims models.PackageDimensions) error {
	if err := o.ledger.ReopenTargetForResume(ctx, job.ID, target); err != nil {
		return err
	}

	if err := o.ledger.MarkTargetInProgress(ctx, job.ID, target); err != nil {
		return fmt.Errorf("mark target %s/%s in progress: %w", target.Account, target.ItemID, err)
	}

	outcome, copyErr := o.copier.CopyWithDimensions(ctx, job.SourceAccount, job.SourceItemID, target.Account, dims)
	o.settleListingTarget(ctx, job, target, outcome, copyErr)

	return o.finishJob(ctx, job)
}

func (o *Orchestrator) runTarget(ctx context.Context, job *models.ReplicationJob, target models.Target) {
	if err := o.ledger.MarkTargetInProgress(ctx, job.ID, target); err != nil {
		// Already settled by a previous run or a concurrent resume.
		o.logger.Warn().Err(err).Str("job_id", job.ID).Str("account", target.Account).Msg("Skipping target")
		return
	}

	switch job.Kind {
	case models.KindListing:
		outcome, err := o.copier.Copy(ctx, job.SourceAccount, job.SourceItemID, target.Account)
		o.settleListingTarget(ctx, job, target, outcome, err)
	case models.KindCompatibility:
		attempts, err := o.copyCompatibilities(ctx, job, target)
		o.settleCompatTarget(ctx, job, target, attempts, err)
	default:
		o.recordResult(ctx, job, models.TargetOutcome{
			JobID:     job.ID,
			Account:   target.Account,
			ItemID:    target.ItemID,
			Status:    models.TargetError,
			ErrorKind: models.ErrKindValidation,
			LastError: fmt.Sprintf("unknown job kind %q", job.Kind),
			Attempts:  1,
		})
	}
}

// copyCompatibilities resolves the destination, selects the one mutation
// that fits its state, and executes it.
func (o *Orchestrator) copyCompatibilities(ctx context.Context, job *models.ReplicationJob, target models.Target) (int, error) {
	state, err := o.resolver.Resolve(ctx, target.Account, target.ItemID)
	if err != nil {
		return meli.Attempts(err), err
	}

	strategy, err := SelectStrategy(state, job.Mode)
	if err != nil {
		return 0, err
	}

	o.logger.Debug().
		Str("job_id", job.ID).
		Str("account", target.Account).
		Str("item", target.ItemID).
		Str("strategy", string(strategy)).
		Msg("Selected compatibility strategy")

	switch strategy {
	case StrategyCreate:
		res, err := o.api.CreateCompatibilities(ctx, target.Account, target.ItemID, job.SourceItemID)
		return res.Attempts, err
	case StrategyMerge:
		res, err := o.api.MergeCompatibilities(ctx, target.Account, target.ItemID, job.SourceItemID)
		return res.Attempts, err
	case StrategyReplace:
		res, err := o.api.ReplaceCompatibilities(ctx, target.Account, target.ItemID, job.SourceItemID, state.ExistingProductIDs)
		if err != nil {
			return res.Attempts, o.checkPartialReplace(ctx, target, err)
		}
		return res.Attempts, nil
	case StrategyUserProduct:
		res, err := o.api.CopyUserProductCompatibilities(ctx, target.Account, state.UserProductID, state.DomainID, state.CategoryID, job.SourceItemID)
		return res.Attempts, err
	}
	return 0, fmt.Errorf("unhandled strategy %q", strategy)
}

// checkPartialReplace distinguishes a wholesale replace failure from one
// that stripped the existing table before the copy portion was rejected.
// The destination is re-read once; an empty table after a failed replace
// means data was lost and operators must know.
func (o *Orchestrator) checkPartialReplace(ctx context.Context, target models.Target, replaceErr error) error {
	compat, err := o.api.GetItemCompatibilities(ctx, target.Account, target.ItemID)
	if err != nil {
		// Cannot verify; report the original failure.
		o.logger.Warn().Err(err).Str("account", target.Account).Str("item", target.ItemID).Msg("Could not verify destination after failed replace")
		return replaceErr
	}
	if compat.HasProducts() {
		return replaceErr
	}
	partial := &PartialReplaceError{Account: target.Account, ItemID: target.ItemID, Err: replaceErr}
	if o.alerter != nil {
		o.alerter.Alert(ctx, "Partial replace failure", partial.Error())
	}
	return partial
}

func (o *Orchestrator) settleListingTarget(ctx context.Context, job *models.ReplicationJob, target models.Target, copyOutcome *ListingCopyOutcome, err error) {
	outcome := models.TargetOutcome{
		JobID:    job.ID,
		Account:  target.Account,
		ItemID:   target.ItemID,
		Attempts: 1,
	}
	if err != nil {
		outcome.Attempts = meli.Attempts(err)
	}

	var missing *MissingInfoError
	switch {
	case err == nil:
		outcome.Status = models.TargetSuccess
		outcome.ProducedID = copyOutcome.NewItemID
		if len(copyOutcome.Warnings) > 0 {
			outcome.LastError = copyOutcome.Warnings[0]
		}
	case errors.As(err, &missing):
		outcome.Status = models.TargetNeedsMoreInfo
		outcome.ErrorKind = models.ErrKindMissingInfo
		outcome.LastError = missing.Detail
	default:
		outcome.Status = models.TargetError
		outcome.ErrorKind = classifyError(err)
		outcome.LastError = err.Error()
	}

	o.recordResult(ctx, job, outcome)
}

func (o *Orchestrator) settleCompatTarget(ctx context.Context, job *models.ReplicationJob, target models.Target, attempts int, err error) {
	if attempts < 1 {
		attempts = 1
	}
	outcome := models.TargetOutcome{
		JobID:    job.ID,
		Account:  target.Account,
		ItemID:   target.ItemID,
		Attempts: attempts,
	}
	if err == nil {
		outcome.Status = models.TargetSuccess
		outcome.ProducedID = target.ItemID
	} else {
		outcome.Status = models.TargetError
		outcome.ErrorKind = classifyError(err)
		outcome.LastError = err.Error()
	}

	o.recordResult(ctx, job, outcome)
}

// recordResult writes the outcome to the ledger immediately. A write
// failure after the remote mutation already happened is a consistency
// incident: it is alerted and logged, never retried against the API.
func (o *Orchestrator) recordResult(ctx context.Context, job *models.ReplicationJob, outcome models.TargetOutcome) {
	err := o.ledger.RecordTargetResult(ctx, outcome)
	if err == nil {
		metrics.IncTargetsProcessed(outcome.Status)
		eventType := events.EventTargetSettled
		if outcome.Status == models.TargetNeedsMoreInfo {
			eventType = events.EventTargetPaused
		}
		_ = o.bus.PublishJSON(eventType, events.TargetEventPayload{
			JobID:      outcome.JobID,
			Account:    outcome.Account,
			ItemID:     outcome.ItemID,
			Status:     outcome.Status,
			ProducedID: outcome.ProducedID,
			ErrorKind:  outcome.ErrorKind,
			At:         time.Now(),
		})
		return
	}

	if errors.Is(err, database.ErrTerminalOutcome) {
		o.logger.Warn().Str("job_id", outcome.JobID).Str("account", outcome.Account).Msg("Target already settled, keeping first result")
		return
	}

	ledgerErr := &LedgerWriteError{JobID: outcome.JobID, Account: outcome.Account, ItemID: outcome.ItemID, Err: err}
	o.logger.Error().Err(err).
		Str("job_id", outcome.JobID).
		Str("account", outcome.Account).
		Str("item", outcome.ItemID).
		Str("remote_status", outcome.Status).
		Msg("Ledger write failed after remote call")
	metrics.IncLedgerWriteFailures()
	if o.alerter != nil {
		o.alerter.Alert(ctx, "Ledger write failure", ledgerErr.Error())
	}
	_ = o.bus.PublishJSON(events.EventLedgerAlert, events.TargetEventPayload{
		JobID:     outcome.JobID,
		Account:   outcome.Account,
		ItemID:    outcome.ItemID,
		Status:    outcome.Status,
		ErrorKind: models.ErrKindLedger,
		At:        time.Now(),
	})
}

func (o *Orchestrator) finishJob(ctx context.Context, job *models.ReplicationJob) error {
	status, err := o.ledger.RecomputeJobStatus(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("recompute status for job %s: %w", job.ID, err)
	}

	o.logger.Info().Str("job_id", job.ID).Str("status", status).Msg("Job finished")
	metrics.IncJobsFinished(job.Kind, status)
	_ = o.bus.PublishJSON(events.EventJobFinished, events.JobEventPayload{
		JobID:         job.ID,
		Kind:          job.Kind,
		SourceAccount: job.SourceAccount,
		SourceItemID:  job.SourceItemID,
		Status:        status,
		TotalTargets:  job.TotalTargets,
		At:            time.Now(),
	})
	return nil
}
