package replicator

import (
	"context"
	"fmt"

	"mlcopy/internal/meli"
	"mlcopy/internal/models"

	"github.com/rs/zerolog"
)

// MarketplaceAPI is the full client surface the replication engine uses.
// *meli.Client satisfies it; tests substitute fakes.
type MarketplaceAPI interface {
	MarketplaceReader
	SKUSearcher
	GetItemDescription(ctx context.Context, account, itemID string) (*meli.Description, error)
	CreateItem(ctx context.Context, account string, payload *meli.Item) (*meli.Item, error)
	SetItemDescription(ctx context.Context, account, itemID, plainText string) error
	CreateCompatibilities(ctx context.Context, account, itemID, sourceItemID string) (meli.CompatResult, error)
	MergeCompatibilities(ctx context.Context, account, itemID, sourceItemID string) (meli.CompatResult, error)
	ReplaceCompatibilities(ctx context.Context, account, itemID, sourceItemID string, existingIDs []string) (meli.CompatResult, error)
	CopyUserProductCompatibilities(ctx context.Context, account, userProductID, domainID, categoryID, sourceItemID string) (meli.CompatResult, error)
}

// ListingCopyOutcome reports a successful listing copy. Warnings carry
// non-fatal follow-up failures (description, compatibility table).
type ListingCopyOutcome struct {
	NewItemID string
	Warnings  []string
}

// ListingCopier clones a listing from one account onto another.
type ListingCopier struct {
	api    MarketplaceAPI
	logger *zerolog.Logger
}

func NewListingCopier(api MarketplaceAPI, logger *zerolog.Logger) *ListingCopier {
	return &ListingCopier{api: api, logger: logger}
}

// Copy publishes a copy of the source listing on the destination account.
// A missing-dimensions rejection surfaces as *MissingInfoError so the
// caller pauses the target instead of failing it.
func (c *ListingCopier) Copy(ctx context.Context, sourceAccount, sourceItemID, destAccount string) (*ListingCopyOutcome, error) {
	return c.copy(ctx, sourceAccount, sourceItemID, destAccount, nil)
}

// CopyWithDimensions is the resume path: same flow as Copy with the
// operator-supplied package dimensions stamped onto the payload.
func (c *ListingCopier) CopyWithDimensions(ctx context.Context, sourceAccount, sourceItemID, destAccount string, dims models.PackageDimensions) (*ListingCopyOutcome, error) {
	return c.copy(ctx, sourceAccount, sourceItemID, destAccount, &dims)
}

func (c *ListingCopier) copy(ctx context.Context, sourceAccount, sourceItemID, destAccount string, dims *models.PackageDimensions) (*ListingCopyOutcome, error) {
	src, err := c.api.GetItem(ctx, sourceAccount, sourceItemID)
	if err != nil {
		return nil, fmt.Errorf("fetch source listing %s: %w", sourceItemID, err)
	}

	desc, err := c.api.GetItemDescription(ctx, sourceAccount, sourceItemID)
	if err != nil {
		return nil, fmt.Errorf("fetch source description %s: %w", sourceItemID, err)
	}

	payload := BuildListingPayload(src)
	if dims != nil && !dims.Empty() {
		ApplyDimensions(payload, *dims)
	}

	created, err := c.api.CreateItem(ctx, destAccount, payload)
	if err != nil {
		if isMissingDimensions(err) {
			return nil, &MissingInfoError{Account: destAccount, Detail: apiErrorDetail(err)}
		}
		return nil, fmt.Errorf("create listing on %s: %w", destAccount, err)
	}

	outcome := &ListingCopyOutcome{NewItemID: created.ID}

	if desc.PlainText != "" {
		if err := c.api.SetItemDescription(ctx, destAccount, created.ID, desc.PlainText); err != nil {
			c.logger.Warn().Err(err).Str("account", destAccount).Str("item", created.ID).Msg("Failed to copy description")
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("description copy failed: %v", err))
		}
	}

	// Compatibility data rides along when the source has any. A failure
	// here does not undo the published listing.
	sourceCompat, err := c.api.GetItemCompatibilities(ctx, sourceAccount, sourceItemID)
	if err != nil {
		c.logger.Warn().Err(err).Str("item", sourceItemID).Msg("Failed to read source compatibilities")
		outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("compatibility read failed: %v", err))
		return outcome, nil
	}
	if sourceCompat.HasProducts() {
		if _, err := c.api.CreateCompatibilities(ctx, destAccount, created.ID, sourceItemID); err != nil {
			c.logger.Warn().Err(err).Str("account", destAccount).Str("item", created.ID).Msg("Failed to copy compatibilities")
			outcome.Warnings = append(outcome.Warnings, fmt.Sprintf("compatibility copy failed: %v", err))
		}
	}

	return outcome, nil
}
