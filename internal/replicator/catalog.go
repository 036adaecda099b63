package replicator

import (
	"context"
	"sort"
	"sync"

	"mlcopy/internal/models"

	"github.com/rs/zerolog"
)

// skuSearchConcurrency bounds simultaneous search calls during fan-out.
const skuSearchConcurrency = 4

// CatalogMatch is one listing found for a SKU on one account.
type CatalogMatch struct {
	SKU     string `json:"sku"`
	Account string `json:"account"`
	ItemID  string `json:"item_id"`
}

// CatalogResult is the outcome of a SKU fan-out across accounts.
type CatalogResult struct {
	Matches []CatalogMatch `json:"matches"`
	// NotFound lists SKUs that matched nothing on any searched account.
	NotFound []string `json:"not_found,omitempty"`
	// FailedAccounts maps account slugs to the search error that kept
	// them out of the result. Callers decide whether that blocks the job.
	FailedAccounts map[string]string `json:"failed_accounts,omitempty"`
}

// Targets flattens the matches into job targets, first match per
// account/item pair wins.
func (r *CatalogResult) Targets() []models.Target {
	seen := make(map[models.Target]struct{})
	var targets []models.Target
	for _, m := range r.Matches {
		t := models.Target{Account: m.Account, ItemID: m.ItemID}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		targets = append(targets, t)
	}
	return targets
}

// SKUSearcher is the search slice of the marketplace client.
type SKUSearcher interface {
	SearchItemsBySKU(ctx context.Context, account string, userID int64, sku string) ([]string, error)
}

// CatalogResolver locates destination listings by seller SKU across the
// connected accounts.
type CatalogResolver struct {
	searcher SKUSearcher
	logger   *zerolog.Logger
}

func NewCatalogResolver(searcher SKUSearcher, logger *zerolog.Logger) *CatalogResolver {
	return &CatalogResolver{searcher: searcher, logger: logger}
}

// Resolve searches every account for every SKU. The source account is
// skipped so a job never targets its own source listing. Searches run in
// parallel with a bounded worker count; a failing account is reported,
// not fatal.
func (c *CatalogResolver) Resolve(ctx context.Context, accounts []models.Account, skus []string, sourceAccount string) *CatalogResult {
	type lookup struct {
		account models.Account
		sku     string
	}

	var lookups []lookup
	for _, acc := range accounts {
		if acc.Slug == sourceAccount || !acc.Active {
			continue
		}
		for _, sku := range skus {
			lookups = append(lookups, lookup{account: acc, sku: sku})
		}
	}

	result := &CatalogResult{FailedAccounts: make(map[string]string)}
	found := make(map[string]bool, len(skus))

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, skuSearchConcurrency)
	)

	for _, l := range lookups {
		wg.Add(1)
		go func(l lookup) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			itemIDs, err := c.searcher.SearchItemsBySKU(ctx, l.account.Slug, l.account.UserID, l.sku)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.logger.Warn().Err(err).Str("account", l.account.Slug).Str("sku", l.sku).Msg("SKU search failed")
				result.FailedAccounts[l.account.Slug] = err.Error()
				return
			}
			for _, id := range itemIDs {
				result.Matches = append(result.Matches, CatalogMatch{SKU: l.sku, Account: l.account.Slug, ItemID: id})
				found[l.sku] = true
			}
		}(l)
	}
	wg.Wait()

	for _, sku := range skus {
		if !found[sku] {
			result.NotFound = append(result.NotFound, sku)
		}
	}
	if len(result.FailedAccounts) == 0 {
		result.FailedAccounts = nil
	}

	// Deterministic ordering for ledger rows and API responses.
	sort.Slice(result.Matches, func(i, j int) bool {
		a, b := result.Matches[i], result.Matches[j]
		if a.Account != b.Account {
			return a.Account < b.Account
		}
		if a.SKU != b.SKU {
			return a.SKU < b.SKU
		}
		return a.ItemID < b.ItemID
	})
	return result
}
