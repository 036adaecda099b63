package replicator

import (
	"context"
	"fmt"

	"mlcopy/internal/meli"
)

// DestinationState is a point-in-time snapshot of what matters about a
// destination listing: whether it aggregates into a user-product and
// whether it already carries a compatibility table.
type DestinationState struct {
	IsUserProduct      bool
	UserProductID      string
	CategoryID         string
	DomainID           string
	HasCompatibilities bool
	ExistingProductIDs []string
}

// MarketplaceReader is the read half of the marketplace client the
// resolver needs.
type MarketplaceReader interface {
	GetItem(ctx context.Context, account, itemID string) (*meli.Item, error)
	GetItemCompatibilities(ctx context.Context, account, itemID string) (*meli.Compatibilities, error)
}

// Resolver inspects a destination listing before any mutation.
type Resolver struct {
	reader MarketplaceReader
}

func NewResolver(reader MarketplaceReader) *Resolver {
	return &Resolver{reader: reader}
}

// Resolve reads the destination listing once and, for plain listings, its
// compatibility table once. Aggregate listings skip the table read since
// the copy-paste resource overwrites the table regardless of its content.
func (r *Resolver) Resolve(ctx context.Context, account, itemID string) (*DestinationState, error) {
	item, err := r.reader.GetItem(ctx, account, itemID)
	if err != nil {
		return nil, fmt.Errorf("resolve destination %s/%s: %w", account, itemID, err)
	}

	state := &DestinationState{
		CategoryID: item.CategoryID,
		DomainID:   item.DomainID,
	}

	if item.UserProductID != "" {
		state.IsUserProduct = true
		state.UserProductID = item.UserProductID
		return state, nil
	}

	compat, err := r.reader.GetItemCompatibilities(ctx, account, itemID)
	if err != nil {
		return nil, fmt.Errorf("resolve compatibilities for %s/%s: %w", account, itemID, err)
	}
	if compat.HasProducts() {
		state.HasCompatibilities = true
		state.ExistingProductIDs = compat.ProductIDs()
	}
	return state, nil
}
