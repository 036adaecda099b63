package service

import (
	"context"
	"sync"
	"testing"

	"mlcopy/internal/database"
	"mlcopy/internal/events"
	"mlcopy/internal/meli"
	"mlcopy/internal/models"
	"mlcopy/internal/replicator"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAPI is the minimal marketplace surface the service-level tests
// need: items resolve, SKU searches answer from a fixed map, every
// mutation succeeds.
type stubAPI struct {
	mu         sync.Mutex
	items      map[string]*meli.Item            // "account/item"
	compats    map[string]*meli.Compatibilities // "account/item"
	searchHits map[string][]string              // "account/sku"
	mutations  []string
}

func (s *stubAPI) GetItem(ctx context.Context, account, itemID string) (*meli.Item, error) {
	if item, ok := s.items[account+"/"+itemID]; ok {
		return item, nil
	}
	return &meli.Item{ID: itemID}, nil
}

func (s *stubAPI) GetItemCompatibilities(ctx context.Context, account, itemID string) (*meli.Compatibilities, error) {
	// Mirrors the real client: a listing without a table reads as (nil, nil).
	return s.compats[account+"/"+itemID], nil
}

func (s *stubAPI) GetItemDescription(ctx context.Context, account, itemID string) (*meli.Description, error) {
	return &meli.Description{}, nil
}

func (s *stubAPI) CreateItem(ctx context.Context, account string, payload *meli.Item) (*meli.Item, error) {
	s.recordMutation("create_item " + account)
	return &meli.Item{ID: "MLB-NEW"}, nil
}

func (s *stubAPI) SetItemDescription(ctx context.Context, account, itemID, plainText string) error {
	return nil
}

func (s *stubAPI) CreateCompatibilities(ctx context.Context, account, itemID, sourceItemID string) (meli.CompatResult, error) {
	s.recordMutation("create " + account + "/" + itemID)
	return meli.CompatResult{Attempts: 1}, nil
}

func (s *stubAPI) MergeCompatibilities(ctx context.Context, account, itemID, sourceItemID string) (meli.CompatResult, error) {
	s.recordMutation("merge " + account + "/" + itemID)
	return meli.CompatResult{Attempts: 1}, nil
}

func (s *stubAPI) ReplaceCompatibilities(ctx context.Context, account, itemID, sourceItemID string, existingIDs []string) (meli.CompatResult, error) {
	s.recordMutation("replace " + account + "/" + itemID)
	return meli.CompatResult{Attempts: 1}, nil
}

func (s *stubAPI) CopyUserProductCompatibilities(ctx context.Context, account, userProductID, domainID, categoryID, sourceItemID string) (meli.CompatResult, error) {
	s.recordMutation("copy_paste " + account)
	return meli.CompatResult{Attempts: 1}, nil
}

func (s *stubAPI) SearchItemsBySKU(ctx context.Context, account string, userID int64, sku string) ([]string, error) {
	return s.searchHits[account+"/"+sku], nil
}

func (s *stubAPI) recordMutation(key string) {
	s.mu.Lock()
	s.mutations = append(s.mutations, key)
	s.mu.Unlock()
}

type recordingQueue struct {
	mu   sync.Mutex
	jobs []string
}

func (q *recordingQueue) Enqueue(ctx context.Context, jobID string) error {
	q.mu.Lock()
	q.jobs = append(q.jobs, jobID)
	q.mu.Unlock()
	return nil
}

type serviceFixture struct {
	svc   *ReplicationService
	db    *database.DB
	api   *stubAPI
	queue *recordingQueue
}

func newServiceFixture(t *testing.T) *serviceFixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	for _, acc := range []models.Account{
		{Slug: "loja-a", UserID: 1, Active: true},
		{Slug: "loja-b", UserID: 2, Active: true},
		{Slug: "loja-c", UserID: 3, Active: false},
	} {
		require.NoError(t, db.UpsertAccount(ctx, &acc))
	}

	api := &stubAPI{
		items:      make(map[string]*meli.Item),
		compats:    make(map[string]*meli.Compatibilities),
		searchHits: make(map[string][]string),
	}
	queue := &recordingQueue{}
	bus := events.NewEventBus()
	orch := replicator.NewOrchestrator(db, api, nil, bus, &logger, 2)
	catalog := replicator.NewCatalogResolver(api, &logger)
	svc := NewReplicationService(db, db, api, catalog, orch, queue, bus, &logger)
	return &serviceFixture{svc: svc, db: db, api: api, queue: queue}
}

func TestCreateListingJobValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateListingJob(ctx, ListingJobRequest{SourceItemID: "MLB100"})
	assert.Error(t, err)

	_, err = f.svc.CreateListingJob(ctx, ListingJobRequest{SourceAccount: "loja-a", SourceItemID: "MLB100"})
	assert.ErrorIs(t, err, ErrNoTargets)

	_, err = f.svc.CreateListingJob(ctx, ListingJobRequest{
		SourceAccount: "loja-a", SourceItemID: "MLB100", TargetAccounts: []string{"loja-a"},
	})
	assert.ErrorContains(t, err, "source account")

	_, err = f.svc.CreateListingJob(ctx, ListingJobRequest{
		SourceAccount: "ghost", SourceItemID: "MLB100", TargetAccounts: []string{"loja-b"},
	})
	assert.ErrorIs(t, err, ErrUnknownAccount)

	_, err = f.svc.CreateListingJob(ctx, ListingJobRequest{
		SourceAccount: "loja-a", SourceItemID: "MLB100", TargetAccounts: []string{"loja-c"},
	})
	assert.ErrorContains(t, err, "disabled")
}

func TestCreateListingJobPersistsAndEnqueues(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	job, err := f.svc.CreateListingJob(ctx, ListingJobRequest{
		SourceAccount:  "loja-a",
		SourceItemID:   "MLB100",
		TargetAccounts: []string{"loja-b", "loja-b"},
		Initiator:      "ops@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, job.Status)
	assert.Equal(t, 1, job.TotalTargets, "duplicate target accounts collapse")
	assert.Equal(t, []string{job.ID}, f.queue.jobs)

	view, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, view.Targets, 1)
	assert.Equal(t, "MLB100", view.Targets[0].ItemID, "listing targets carry the source item id")
	assert.Equal(t, models.TargetPending, view.Targets[0].Status)
}

func TestCreateCompatJobExplicitTargets(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	job, resolution, err := f.svc.CreateCompatJob(ctx, CompatJobRequest{
		SourceAccount: "loja-a",
		SourceItemID:  "MLB100",
		Mode:          models.ModeAdd,
		Targets: []models.Target{
			{Account: "loja-b", ItemID: "MLB200"},
			{Account: "loja-b", ItemID: "MLB200"},
		},
	})
	require.NoError(t, err)
	assert.Nil(t, resolution, "no SKU fan-out for explicit targets")
	assert.Equal(t, 1, job.TotalTargets)
}

func TestCreateCompatJobRejectsBadMode(t *testing.T) {
	f := newServiceFixture(t)
	_, _, err := f.svc.CreateCompatJob(context.Background(), CompatJobRequest{
		SourceAccount: "loja-a", SourceItemID: "MLB100", Mode: "upsert",
		Targets: []models.Target{{Account: "loja-b", ItemID: "MLB200"}},
	})
	assert.ErrorContains(t, err, "mode")
}

func TestCreateCompatJobResolvesSKUs(t *testing.T) {
	f := newServiceFixture(t)
	f.api.searchHits["loja-b/FA-001"] = []string{"MLB200", "MLB201"}
	ctx := context.Background()

	job, resolution, err := f.svc.CreateCompatJob(ctx, CompatJobRequest{
		SourceAccount: "loja-a",
		SourceItemID:  "MLB100",
		Mode:          models.ModeReplace,
		SKUs:          []string{"FA-001", "FA-404"},
	})
	require.NoError(t, err)
	require.NotNil(t, resolution)
	assert.Equal(t, []string{"FA-404"}, resolution.NotFound)
	assert.Equal(t, 2, job.TotalTargets)

	view, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	for _, target := range view.Targets {
		assert.Equal(t, "loja-b", target.Account, "inactive and source accounts are never targeted")
	}
}

func TestCreateCompatJobNoMatchesFails(t *testing.T) {
	f := newServiceFixture(t)
	_, resolution, err := f.svc.CreateCompatJob(context.Background(), CompatJobRequest{
		SourceAccount: "loja-a", SourceItemID: "MLB100", Mode: models.ModeAdd,
		SKUs: []string{"FA-404"},
	})
	assert.ErrorIs(t, err, ErrNoTargets)
	require.NotNil(t, resolution, "resolution detail is returned so callers can see why")
	assert.Equal(t, []string{"FA-404"}, resolution.NotFound)
}

func TestRunExecutesJobAndSkipsSettled(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	job, _, err := f.svc.CreateCompatJob(ctx, CompatJobRequest{
		SourceAccount: "loja-a", SourceItemID: "MLB100", Mode: models.ModeAdd,
		Targets: []models.Target{{Account: "loja-b", ItemID: "MLB200"}},
	})
	require.NoError(t, err)

	require.NoError(t, f.svc.Run(ctx, job.ID))
	view, err := f.svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSuccess, view.Job.Status)
	assert.Len(t, f.api.mutations, 1)

	// A stale queue entry after settlement is a no-op.
	require.NoError(t, f.svc.Run(ctx, job.ID))
	assert.Len(t, f.api.mutations, 1)
}

func TestResumeRequiresDimensions(t *testing.T) {
	f := newServiceFixture(t)
	_, err := f.svc.Resume(context.Background(), ResumeRequest{JobID: "whatever"})
	assert.ErrorContains(t, err, "dimensions")
}

func TestResumeRejectsCompatJobs(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	job, _, err := f.svc.CreateCompatJob(ctx, CompatJobRequest{
		SourceAccount: "loja-a", SourceItemID: "MLB100", Mode: models.ModeAdd,
		Targets: []models.Target{{Account: "loja-b", ItemID: "MLB200"}},
	})
	require.NoError(t, err)

	_, err = f.svc.Resume(ctx, ResumeRequest{
		JobID:      job.ID,
		Dimensions: models.PackageDimensions{HeightCM: 1, WidthCM: 1, LengthCM: 1, WeightG: 1},
	})
	assert.ErrorContains(t, err, "listing")
}

func TestResumeSucceededTargetIsNoOp(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	job, err := f.svc.CreateListingJob(ctx, ListingJobRequest{
		SourceAccount: "loja-a", SourceItemID: "MLB100", TargetAccounts: []string{"loja-b"},
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Run(ctx, job.ID))
	mutationsAfterRun := len(f.api.mutations)

	view, err := f.svc.Resume(ctx, ResumeRequest{
		JobID:      job.ID,
		Account:    "loja-b",
		Dimensions: models.PackageDimensions{HeightCM: 10, WidthCM: 10, LengthCM: 10, WeightG: 400},
	})
	require.NoError(t, err, "resubmitting dimensions for a succeeded target is a no-op")
	assert.Equal(t, models.JobSuccess, view.Job.Status)
	require.Len(t, view.Targets, 1)
	assert.Equal(t, models.TargetSuccess, view.Targets[0].Status)
	assert.Len(t, f.api.mutations, mutationsAfterRun, "no-op resume must not re-run the copy")
}

func TestResumeWithNoMatchingTargets(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()
	job, err := f.svc.CreateListingJob(ctx, ListingJobRequest{
		SourceAccount: "loja-a", SourceItemID: "MLB100", TargetAccounts: []string{"loja-b"},
	})
	require.NoError(t, err)
	require.NoError(t, f.svc.Run(ctx, job.ID))

	_, err = f.svc.Resume(ctx, ResumeRequest{
		JobID:      job.ID,
		Account:    "loja-z",
		Dimensions: models.PackageDimensions{HeightCM: 1, WidthCM: 1, LengthCM: 1, WeightG: 1},
	})
	assert.ErrorIs(t, err, ErrNotResumable)
}

func TestPreviewSKU(t *testing.T) {
	f := newServiceFixture(t)
	f.api.searchHits["loja-a/FA-001"] = []string{"MLB110"}
	f.api.searchHits["loja-b/FA-001"] = []string{"MLB200"}

	result, err := f.svc.PreviewSKU(context.Background(), []string{"FA-001"}, "loja-a")
	require.NoError(t, err)
	require.Len(t, result.Matches, 1, "source account is excluded from the preview")
	assert.Equal(t, "loja-b", result.Matches[0].Account)

	_, err = f.svc.PreviewSKU(context.Background(), nil, "")
	assert.Error(t, err)
}

func TestPreviewItem(t *testing.T) {
	f := newServiceFixture(t)
	f.api.items["loja-a/MLB100"] = &meli.Item{
		ID:         "MLB100",
		Title:      "Filtro de ar esportivo",
		Price:      149.9,
		CurrencyID: "BRL",
		CategoryID: "MLB5672",
		Status:     "active",
		Pictures:   []meli.Picture{{ID: "pic-1"}, {ID: "pic-2"}},
	}

	preview, err := f.svc.PreviewItem(context.Background(), "loja-a", "MLB100")
	require.NoError(t, err)
	assert.Equal(t, "MLB100", preview.ItemID)
	assert.Equal(t, "Filtro de ar esportivo", preview.Title)
	assert.Equal(t, 149.9, preview.Price)
	assert.Equal(t, 2, preview.Pictures)
	assert.False(t, preview.IsUserProduct)
	assert.False(t, preview.HasCompatibilities)
}

func TestPreviewItemWithoutCompatibilityTable(t *testing.T) {
	f := newServiceFixture(t)

	// No compat table seeded, so the read returns (nil, nil) like the
	// real client does on the platform's 404.
	preview, err := f.svc.PreviewItem(context.Background(), "loja-a", "MLB100")
	require.NoError(t, err)
	assert.False(t, preview.HasCompatibilities)
	assert.Zero(t, preview.CompatProducts)
}

func TestPreviewItemCountsCompatProducts(t *testing.T) {
	f := newServiceFixture(t)
	f.api.compats["loja-a/MLB100"] = &meli.Compatibilities{
		Products: []meli.CompatProduct{
			{CatalogProductID: "CP-1"},
			{CatalogProductID: "CP-2"},
		},
	}

	preview, err := f.svc.PreviewItem(context.Background(), "loja-a", "MLB100")
	require.NoError(t, err)
	assert.True(t, preview.HasCompatibilities)
	assert.Equal(t, 2, preview.CompatProducts)
}

func TestPreviewItemValidation(t *testing.T) {
	f := newServiceFixture(t)
	ctx := context.Background()

	_, err := f.svc.PreviewItem(ctx, "", "MLB100")
	assert.Error(t, err)

	_, err = f.svc.PreviewItem(ctx, "ghost", "MLB100")
	assert.ErrorIs(t, err, ErrUnknownAccount)

	_, err = f.svc.PreviewItem(ctx, "loja-c", "MLB100")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disabled")
}
