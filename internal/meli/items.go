package meli

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// GetItem fetches the full listing data.
func (c *Client) GetItem(ctx context.Context, account, itemID string) (*Item, error) {
	var item Item
	_, err := c.do(ctx, callOpts{
		account: account,
		method:  http.MethodGet,
		path:    "/items/" + itemID,
		out:     &item,
	})
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetItemDescription returns the listing description, empty when absent.
func (c *Client) GetItemDescription(ctx context.Context, account, itemID string) (*Description, error) {
	var desc Description
	_, err := c.do(ctx, callOpts{
		account: account,
		method:  http.MethodGet,
		path:    "/items/" + itemID + "/description",
		out:     &desc,
	})
	if IsNotFound(err) {
		return &Description{}, nil
	}
	if err != nil {
		return nil, err
	}
	return &desc, nil
}

// GetItemCompatibilities returns the compatibility table, nil when the
// listing has none. Callers treat nil and empty as equivalent.
func (c *Client) GetItemCompatibilities(ctx context.Context, account, itemID string) (*Compatibilities, error) {
	var compat Compatibilities
	_, err := c.do(ctx, callOpts{
		account: account,
		method:  http.MethodGet,
		path:    "/items/" + itemID + "/compatibilities",
		query:   url.Values{"extended": {"true"}},
		out:     &compat,
	})
	if IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &compat, nil
}

// CreateItem creates a new listing and returns it.
func (c *Client) CreateItem(ctx context.Context, account string, payload *Item) (*Item, error) {
	var created Item
	_, err := c.do(ctx, callOpts{
		account: account,
		method:  http.MethodPost,
		path:    "/items",
		body:    payload,
		out:     &created,
	})
	if err != nil {
		return nil, err
	}
	if created.ID == "" {
		return nil, fmt.Errorf("create item on %s: response missing id", account)
	}
	return &created, nil
}

// UpdateItem applies a partial update to an existing listing.
func (c *Client) UpdateItem(ctx context.Context, account, itemID string, payload *Item) error {
	_, err := c.do(ctx, callOpts{
		account: account,
		method:  http.MethodPut,
		path:    "/items/" + itemID,
		body:    payload,
	})
	return err
}

// SetItemDescription sets the plain-text description of a listing.
func (c *Client) SetItemDescription(ctx context.Context, account, itemID, plainText string) error {
	_, err := c.do(ctx, callOpts{
		account: account,
		method:  http.MethodPost,
		path:    "/items/" + itemID + "/description",
		body:    Description{PlainText: plainText},
	})
	return err
}

// SearchItemsBySKU looks up listings of an account by seller SKU. The
// platform indexes the code under two parameter names; both are queried
// and results deduplicated.
func (c *Client) SearchItemsBySKU(ctx context.Context, account string, userID int64, sku string) ([]string, error) {
	seen := make(map[string]struct{})
	var itemIDs []string

	for _, param := range []string{"seller_sku", "sku"} {
		var results searchResults
		_, err := c.do(ctx, callOpts{
			account: account,
			method:  http.MethodGet,
			path:    fmt.Sprintf("/users/%d/items/search", userID),
			query:   url.Values{param: {sku}},
			out:     &results,
		})
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		for _, id := range results.Results {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			itemIDs = append(itemIDs, id)
		}
	}
	return itemIDs, nil
}
