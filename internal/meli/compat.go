package meli

import (
	"context"
	"net/http"
)

// CompatResult reports the outcome of a compatibility mutation along with
// the number of HTTP calls the retry controller dispatched.
type CompatResult struct {
	Attempts int
}

// CreateCompatibilities copies the source listing's compatibility table
// onto a destination that has none. Single additive call.
func (c *Client) CreateCompatibilities(ctx context.Context, account, itemID, sourceItemID string) (CompatResult, error) {
	attempts, err := c.do(ctx, callOpts{
		account: account,
		method:  http.MethodPost,
		path:    "/items/" + itemID + "/compatibilities",
		body:    copyBody(sourceItemID),
	})
	return CompatResult{Attempts: attempts}, err
}

// MergeCompatibilities adds the source table to a destination that already
// has entries. The platform deduplicates on its side.
func (c *Client) MergeCompatibilities(ctx context.Context, account, itemID, sourceItemID string) (CompatResult, error) {
	attempts, err := c.do(ctx, callOpts{
		account: account,
		method:  http.MethodPut,
		path:    "/items/" + itemID + "/compatibilities",
		body:    compatUpdate{Create: copyBody(sourceItemID)},
	})
	return CompatResult{Attempts: attempts}, err
}

// ReplaceCompatibilities deletes the listed existing entries and copies
// the source table in one combined request.
func (c *Client) ReplaceCompatibilities(ctx context.Context, account, itemID, sourceItemID string, existingIDs []string) (CompatResult, error) {
	body := compatUpdate{Create: copyBody(sourceItemID)}
	if len(existingIDs) > 0 {
		body.Delete = &compatDelete{ProductIDs: existingIDs}
	}
	attempts, err := c.do(ctx, callOpts{
		account: account,
		method:  http.MethodPut,
		path:    "/items/" + itemID + "/compatibilities",
		body:    body,
	})
	return CompatResult{Attempts: attempts}, err
}

// CopyUserProductCompatibilities copies compatibilities onto an aggregate
// user-product via its dedicated copy-paste resource. The body references
// the source listing only; the aggregate id lives in the path.
func (c *Client) CopyUserProductCompatibilities(ctx context.Context, account, userProductID, domainID, categoryID, sourceItemID string) (CompatResult, error) {
	attempts, err := c.do(ctx, callOpts{
		account: account,
		method:  http.MethodPost,
		path:    "/user-products/" + userProductID + "/compatibilities/copy-paste",
		body: userProductCopy{
			DomainID:            domainID,
			CategoryID:          categoryID,
			ItemID:              sourceItemID,
			ExtendedInformation: true,
		},
	})
	return CompatResult{Attempts: attempts}, err
}

func copyBody(sourceItemID string) compatCopy {
	return compatCopy{ItemToCopy: compatSource{ItemID: sourceItemID, ExtendedInformation: true}}
}
