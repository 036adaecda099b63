package replicator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"mlcopy/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSearcher struct {
	mu      sync.Mutex
	results map[string][]string // "account/sku" -> item ids
	fail    map[string]error    // account slug -> error
	calls   []string
}

func (f *fakeSearcher) SearchItemsBySKU(ctx context.Context, account string, userID int64, sku string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, account+"/"+sku)
	if err, ok := f.fail[account]; ok {
		return nil, err
	}
	return f.results[account+"/"+sku], nil
}

func testAccounts() []models.Account {
	return []models.Account{
		{Slug: "loja-a", UserID: 1, Active: true},
		{Slug: "loja-b", UserID: 2, Active: true},
		{Slug: "loja-c", UserID: 3, Active: false},
	}
}

func newCatalogResolver(s SKUSearcher) *CatalogResolver {
	logger := zerolog.Nop()
	return NewCatalogResolver(s, &logger)
}

func TestCatalogResolveSkipsSourceAndInactiveAccounts(t *testing.T) {
	searcher := &fakeSearcher{
		results: map[string][]string{
			"loja-b/FA-001": {"MLB200"},
		},
	}
	resolver := newCatalogResolver(searcher)

	result := resolver.Resolve(context.Background(), testAccounts(), []string{"FA-001"}, "loja-a")

	require.Len(t, result.Matches, 1)
	assert.Equal(t, CatalogMatch{SKU: "FA-001", Account: "loja-b", ItemID: "MLB200"}, result.Matches[0])
	for _, call := range searcher.calls {
		assert.NotContains(t, call, "loja-a/", "source account must not be searched")
		assert.NotContains(t, call, "loja-c/", "inactive account must not be searched")
	}
}

func TestCatalogResolveReportsNotFoundSKUs(t *testing.T) {
	searcher := &fakeSearcher{
		results: map[string][]string{
			"loja-a/FA-001": {"MLB100"},
		},
	}
	resolver := newCatalogResolver(searcher)

	result := resolver.Resolve(context.Background(), testAccounts(), []string{"FA-001", "FA-404"}, "loja-b")

	assert.Equal(t, []string{"FA-404"}, result.NotFound)
	assert.Len(t, result.Matches, 1)
}

func TestCatalogResolveFailingAccountIsNotFatal(t *testing.T) {
	searcher := &fakeSearcher{
		results: map[string][]string{
			"loja-b/FA-001": {"MLB200", "MLB201"},
		},
		fail: map[string]error{"loja-a": errors.New("token expired")},
	}
	resolver := newCatalogResolver(searcher)

	result := resolver.Resolve(context.Background(), testAccounts(), []string{"FA-001"}, "")

	require.Len(t, result.Matches, 2)
	require.Contains(t, result.FailedAccounts, "loja-a")
	assert.Equal(t, "token expired", result.FailedAccounts["loja-a"])
	assert.Empty(t, result.NotFound, "SKU found elsewhere is not reported missing")
}

func TestCatalogResultTargetsDeduplicates(t *testing.T) {
	result := &CatalogResult{Matches: []CatalogMatch{
		{SKU: "FA-001", Account: "loja-b", ItemID: "MLB200"},
		{SKU: "FA-002", Account: "loja-b", ItemID: "MLB200"},
		{SKU: "FA-001", Account: "loja-b", ItemID: "MLB201"},
	}}

	targets := result.Targets()
	assert.Equal(t, []models.Target{
		{Account: "loja-b", ItemID: "MLB200"},
		{Account: "loja-b", ItemID: "MLB201"},
	}, targets)
}

func TestCatalogResolveOrdersDeterministically(t *testing.T) {
	searcher := &fakeSearcher{
		results: map[string][]string{
			"loja-a/FA-001": {"MLB110"},
			"loja-b/FA-001": {"MLB200"},
		},
	}
	resolver := newCatalogResolver(searcher)

	for i := 0; i < 5; i++ {
		result := resolver.Resolve(context.Background(), testAccounts(), []string{"FA-001"}, "")
		require.Len(t, result.Matches, 2)
		assert.Equal(t, "loja-a", result.Matches[0].Account)
		assert.Equal(t, "loja-b", result.Matches[1].Account)
	}
}
