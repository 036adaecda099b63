package meli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"mlcopy/internal/config"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// TokenProvider yields a valid access token for a connected account.
// Token refresh is the account service's concern; the client only reads.
type TokenProvider interface {
	Token(ctx context.Context, account string) (string, error)
}

// Client talks to the remote marketplace API on behalf of connected
// accounts. Every outbound call goes through a per-account rate limiter
// and the retry controller.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
	retry      *RetryController
	logger     zerolog.Logger

	rps      float64
	burst    int
	limiters sync.Map // account slug -> *rate.Limiter
}

func NewClient(cfg config.MarketplaceConfig, tokens TokenProvider, retry *RetryController, logger *zerolog.Logger) *Client {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
		retry:      retry,
		logger:     logger.With().Str("component", "meli-client").Logger(),
		rps:        cfg.AccountRPS,
		burst:      cfg.AccountBurst,
	}
}

type callOpts struct {
	account string
	method  string
	path    string
	query   url.Values
	body    any
	out     any
}

// do executes one logical API operation, retry included. Returns the
// number of dispatched HTTP calls.
func (c *Client) do(ctx context.Context, opts callOpts) (int, error) {
	if err := c.waitLimiter(ctx, opts.account); err != nil {
		return 0, err
	}

	token, err := c.tokens.Token(ctx, opts.account)
	if err != nil {
		return 0, fmt.Errorf("token for %s: %w", opts.account, err)
	}

	var payload []byte
	if opts.body != nil {
		payload, err = json.Marshal(opts.body)
		if err != nil {
			return 0, fmt.Errorf("encode request body: %w", err)
		}
	}

	endpoint := c.baseURL + opts.path
	if len(opts.query) > 0 {
		endpoint += "?" + opts.query.Encode()
	}

	op := opts.method + " " + opts.path
	attempts, err := c.retry.Do(ctx, op, func(ctx context.Context) error {
		var reader *bytes.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}

		var req *http.Request
		var err error
		if reader != nil {
			req, err = http.NewRequestWithContext(ctx, opts.method, endpoint, reader)
		} else {
			req, err = http.NewRequestWithContext(ctx, opts.method, endpoint, nil)
		}
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if err := checkResponse(resp); err != nil {
			return err
		}
		if opts.out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(opts.out)
	})
	if err != nil {
		return attempts, &CallError{Op: op, Attempts: attempts, Err: err}
	}
	return attempts, nil
}

func (c *Client) waitLimiter(ctx context.Context, account string) error {
	if c.rps <= 0 {
		return nil
	}
	return c.getLimiter(account).Wait(ctx)
}

func (c *Client) getLimiter(account string) *rate.Limiter {
	if v, ok := c.limiters.Load(account); ok {
		return v.(*rate.Limiter)
	}

	burst := c.burst
	if burst <= 0 {
		burst = 5
	}

	lim := rate.NewLimiter(rate.Limit(c.rps), burst)
	actual, loaded := c.limiters.LoadOrStore(account, lim)
	if loaded {
		return actual.(*rate.Limiter)
	}
	return lim
}
