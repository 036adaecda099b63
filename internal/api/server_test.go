package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"mlcopy/internal/config"
	"mlcopy/internal/database"
	"mlcopy/internal/events"
	"mlcopy/internal/export"
	"mlcopy/internal/meli"
	"mlcopy/internal/models"
	"mlcopy/internal/replicator"
	"mlcopy/internal/service"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubMarket answers every marketplace call successfully so the HTTP
// layer can be exercised end to end against a real service and database.
type stubMarket struct {
	searchHits map[string][]string
}

func (s *stubMarket) GetItem(ctx context.Context, account, itemID string) (*meli.Item, error) {
	return &meli.Item{ID: itemID, Title: "Listing"}, nil
}

func (s *stubMarket) GetItemCompatibilities(ctx context.Context, account, itemID string) (*meli.Compatibilities, error) {
	return &meli.Compatibilities{}, nil
}

func (s *stubMarket) GetItemDescription(ctx context.Context, account, itemID string) (*meli.Description, error) {
	return &meli.Description{}, nil
}

func (s *stubMarket) CreateItem(ctx context.Context, account string, payload *meli.Item) (*meli.Item, error) {
	return &meli.Item{ID: "MLB-NEW"}, nil
}

func (s *stubMarket) SetItemDescription(ctx context.Context, account, itemID, plainText string) error {
	return nil
}

func (s *stubMarket) CreateCompatibilities(ctx context.Context, account, itemID, sourceItemID string) (meli.CompatResult, error) {
	return meli.CompatResult{Attempts: 1}, nil
}

func (s *stubMarket) MergeCompatibilities(ctx context.Context, account, itemID, sourceItemID string) (meli.CompatResult, error) {
	return meli.CompatResult{Attempts: 1}, nil
}

func (s *stubMarket) ReplaceCompatibilities(ctx context.Context, account, itemID, sourceItemID string, existingIDs []string) (meli.CompatResult, error) {
	return meli.CompatResult{Attempts: 1}, nil
}

func (s *stubMarket) CopyUserProductCompatibilities(ctx context.Context, account, userProductID, domainID, categoryID, sourceItemID string) (meli.CompatResult, error) {
	return meli.CompatResult{Attempts: 1}, nil
}

func (s *stubMarket) SearchItemsBySKU(ctx context.Context, account string, userID int64, sku string) ([]string, error) {
	return s.searchHits[account+"/"+sku], nil
}

type noopQueue struct{}

func (noopQueue) Enqueue(ctx context.Context, jobID string) error { return nil }

type apiFixture struct {
	srv    *httptest.Server
	db     *database.DB
	market *stubMarket
}

func newAPIFixture(t *testing.T, cfg config.APIConfig, exporter bool) *apiFixture {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	for _, acc := range []models.Account{
		{Slug: "loja-a", UserID: 1, Active: true},
		{Slug: "loja-b", UserID: 2, Active: true},
	} {
		require.NoError(t, db.UpsertAccount(ctx, &acc))
	}

	market := &stubMarket{searchHits: make(map[string][]string)}
	bus := events.NewEventBus()
	orch := replicator.NewOrchestrator(db, market, nil, bus, &logger, 2)
	catalog := replicator.NewCatalogResolver(market, &logger)
	svc := service.NewReplicationService(db, db, market, catalog, orch, noopQueue{}, bus, &logger)

	var exp *export.Exporter
	if exporter {
		exp = export.NewExporter(t.TempDir(), db, &logger)
	}

	httpSrv := NewHTTPServer(cfg, svc, db, exp, &logger)
	ts := httptest.NewServer(httpSrv.server.Handler)
	t.Cleanup(ts.Close)
	return &apiFixture{srv: ts, db: db, market: market}
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestHealthNeedsNoAuth(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{
		Auth: config.APIAuthConfig{Enabled: true, APIKeys: []config.APIClientKey{{Key: "k1"}}},
	}, false)

	resp, body := doJSON(t, http.MethodGet, f.srv.URL+"/health", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
}

func TestAPIKeyAuth(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{
		Auth: config.APIAuthConfig{
			Enabled: true,
			APIKeys: []config.APIClientKey{
				{Key: "writer", Permissions: []string{"write:jobs", "read:jobs"}},
				{Key: "reader", Permissions: []string{"read:jobs"}},
			},
		},
	}, false)

	resp, _ := doJSON(t, http.MethodGet, f.srv.URL+"/api/v1/jobs", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "missing key")

	resp, _ = doJSON(t, http.MethodGet, f.srv.URL+"/api/v1/jobs", nil, map[string]string{"X-API-Key": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "unknown key")

	resp, _ = doJSON(t, http.MethodGet, f.srv.URL+"/api/v1/jobs", nil, map[string]string{"X-API-Key": "reader"})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, f.srv.URL+"/api/v1/jobs/listing", service.ListingJobRequest{
		SourceAccount: "loja-a", SourceItemID: "MLB100", TargetAccounts: []string{"loja-b"},
	}, map[string]string{"X-API-Key": "reader"})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "reader key cannot create jobs")

	resp, _ = doJSON(t, http.MethodPost, f.srv.URL+"/api/v1/jobs/listing", service.ListingJobRequest{
		SourceAccount: "loja-a", SourceItemID: "MLB100", TargetAccounts: []string{"loja-b"},
	}, map[string]string{"X-API-Key": "writer"})
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestPerKeyRateLimit(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{
		RateLimit: config.APIRateLimitConfig{RPS: 0.001, Burst: 1},
	}, false)

	resp, _ := doJSON(t, http.MethodGet, f.srv.URL+"/api/v1/jobs", nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodGet, f.srv.URL+"/api/v1/jobs", nil, nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
}

func TestCreateAndFetchListingJob(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{}, false)

	resp, body := doJSON(t, http.MethodPost, f.srv.URL+"/api/v1/jobs/listing", service.ListingJobRequest{
		SourceAccount: "loja-a", SourceItemID: "MLB100", TargetAccounts: []string{"loja-b"},
	}, nil)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	job := body["job"].(map[string]any)
	jobID := job["id"].(string)
	assert.Equal(t, models.JobPending, job["status"])

	resp, view := doJSON(t, http.MethodGet, f.srv.URL+"/api/v1/jobs/"+jobID, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	targets := view["targets"].([]any)
	require.Len(t, targets, 1)

	resp, _ = doJSON(t, http.MethodGet, f.srv.URL+"/api/v1/jobs/missing", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateListingJobRejectsUnknownFields(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{}, false)
	resp, _ := doJSON(t, http.MethodPost, f.srv.URL+"/api/v1/jobs/listing", map[string]any{
		"source_account": "loja-a", "source_item_id": "MLB100", "accounts": []string{"loja-b"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateListingJobUnknownAccountIs404(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{}, false)
	resp, _ := doJSON(t, http.MethodPost, f.srv.URL+"/api/v1/jobs/listing", service.ListingJobRequest{
		SourceAccount: "ghost", SourceItemID: "MLB100", TargetAccounts: []string{"loja-b"},
	}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCreateCompatJobReturnsResolutionOnFailure(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{}, false)

	resp, body := doJSON(t, http.MethodPost, f.srv.URL+"/api/v1/jobs/compatibility", service.CompatJobRequest{
		SourceAccount: "loja-a", SourceItemID: "MLB100", Mode: models.ModeAdd, SKUs: []string{"FA-404"},
	}, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resolution := body["resolution"].(map[string]any)
	assert.Contains(t, resolution["not_found"], "FA-404")
}

func TestSearchSKU(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{}, false)
	f.market.searchHits["loja-b/FA-001"] = []string{"MLB200"}

	resp, _ := doJSON(t, http.MethodGet, f.srv.URL+"/api/v1/search", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "skus is required")

	resp, body := doJSON(t, http.MethodGet, f.srv.URL+"/api/v1/search?skus=FA-001&exclude_account=loja-a", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	matches := body["matches"].([]any)
	require.Len(t, matches, 1)
	match := matches[0].(map[string]any)
	assert.Equal(t, "loja-b", match["account"])
}

func TestAdminFlow(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{AdminSecret: "s3cret"}, false)

	// Toggling without a session is refused.
	resp, _ := doJSON(t, http.MethodPost, f.srv.URL+"/api/v1/accounts/loja-b/active", map[string]any{"active": false}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Login before bootstrap is refused.
	resp, _ = doJSON(t, http.MethodPost, f.srv.URL+"/api/v1/admin/login", map[string]any{"secret": "s3cret"}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Bootstrap with the wrong secret is refused.
	resp, _ = doJSON(t, http.MethodPost, f.srv.URL+"/api/v1/admin/elevate", map[string]any{"secret": "wrong"}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, f.srv.URL+"/api/v1/admin/elevate", map[string]any{"secret": "s3cret"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, http.MethodPost, f.srv.URL+"/api/v1/admin/login", map[string]any{"secret": "s3cret"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	token := body["token"].(string)
	require.NotEmpty(t, token)

	resp, body = doJSON(t, http.MethodPost, f.srv.URL+"/api/v1/accounts/loja-b/active", map[string]any{"active": false}, map[string]string{"X-Admin-Token": token})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, false, body["active"])

	acc, err := f.db.GetAccount(context.Background(), "loja-b")
	require.NoError(t, err)
	assert.False(t, acc.Active)

	resp, _ = doJSON(t, http.MethodPost, f.srv.URL+"/api/v1/accounts/ghost/active", map[string]any{"active": true}, map[string]string{"X-Admin-Token": token})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportJobs(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{}, false)
	resp, _ := doJSON(t, http.MethodGet, f.srv.URL+"/api/v1/exports/jobs", nil, nil)
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode, "exports disabled without a configured path")

	f = newAPIFixture(t, config.APIConfig{}, true)
	created, _ := doJSON(t, http.MethodPost, f.srv.URL+"/api/v1/jobs/listing", service.ListingJobRequest{
		SourceAccount: "loja-a", SourceItemID: "MLB100", TargetAccounts: []string{"loja-b"},
	}, nil)
	require.Equal(t, http.StatusAccepted, created.StatusCode)

	resp, body := doJSON(t, http.MethodGet, f.srv.URL+"/api/v1/exports/jobs", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	path := body["file"].(string)
	assert.Equal(t, float64(1), body["jobs"])
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Greater(t, info.Size(), int64(0))
}

func TestListJobsFilterByKind(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{}, false)
	for i := 0; i < 2; i++ {
		resp, _ := doJSON(t, http.MethodPost, f.srv.URL+"/api/v1/jobs/listing", service.ListingJobRequest{
			SourceAccount: "loja-a", SourceItemID: fmt.Sprintf("MLB10%d", i), TargetAccounts: []string{"loja-b"},
		}, nil)
		require.Equal(t, http.StatusAccepted, resp.StatusCode)
	}

	resp, body := doJSON(t, http.MethodGet, f.srv.URL+"/api/v1/jobs?kind=listing&limit=1", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobs := body["jobs"].([]any)
	assert.Len(t, jobs, 1)

	resp, body = doJSON(t, http.MethodGet, f.srv.URL+"/api/v1/jobs?kind=compatibility", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, body["jobs"])
}

func TestItemPreview(t *testing.T) {
	f := newAPIFixture(t, config.APIConfig{}, false)

	resp, _ := doJSON(t, http.MethodGet, f.srv.URL+"/api/v1/items/MLB100/preview", nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "account is required")

	resp, body := doJSON(t, http.MethodGet, f.srv.URL+"/api/v1/items/MLB100/preview?account=loja-a", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "MLB100", body["item_id"])
	assert.Equal(t, "Listing", body["title"])

	resp, _ = doJSON(t, http.MethodGet, f.srv.URL+"/api/v1/items/MLB100/preview?account=ghost", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodGet, f.srv.URL+"/api/v1/items/MLB100", nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode, "only the preview subresource exists")
}
