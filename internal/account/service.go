package account

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"mlcopy/internal/domain"
	"mlcopy/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"
	"gopkg.in/yaml.v3"
)

// refreshSkew renews tokens this long before their recorded expiry so
// in-flight requests never race the deadline.
const refreshSkew = 5 * time.Minute

// Service hands out valid access tokens for connected seller accounts.
// Tokens pass through the cache first, then the store, and are refreshed
// against the marketplace token endpoint when stale.
type Service struct {
	store    domain.AccountStore
	cache    domain.TokenCache
	tokenURL string
	cacheTTL time.Duration
	logger   *zerolog.Logger

	mu        sync.Mutex
	refreshMu map[string]*sync.Mutex
}

func NewService(store domain.AccountStore, cache domain.TokenCache, tokenURL string, cacheTTL time.Duration, logger *zerolog.Logger) *Service {
	return &Service{
		store:     store,
		cache:     cache,
		tokenURL:  tokenURL,
		cacheTTL:  cacheTTL,
		logger:    logger,
		refreshMu: make(map[string]*sync.Mutex),
	}
}

// Token returns a usable access token for the account slug. Satisfies
// the marketplace client's TokenProvider.
func (s *Service) Token(ctx context.Context, slug string) (string, error) {
	if s.cache != nil {
		if token, err := s.cache.Get(ctx, slug); err == nil && token != "" {
			return token, nil
		}
	}

	// One refresh at a time per account; concurrent targets on the same
	// account piggyback on the winner's token.
	lock := s.accountLock(slug)
	lock.Lock()
	defer lock.Unlock()

	if s.cache != nil {
		if token, err := s.cache.Get(ctx, slug); err == nil && token != "" {
			return token, nil
		}
	}

	acc, err := s.store.GetAccount(ctx, slug)
	if err != nil {
		return "", fmt.Errorf("load account %s: %w", slug, err)
	}
	if !acc.Active {
		return "", fmt.Errorf("account %s is disabled", slug)
	}

	if acc.TokenValid(time.Now().Add(refreshSkew)) {
		s.cacheToken(ctx, slug, acc.AccessToken, *acc.TokenExpiresAt)
		return acc.AccessToken, nil
	}

	token, expiresAt, err := s.refresh(ctx, acc)
	if err != nil {
		return "", err
	}
	s.cacheToken(ctx, slug, token, expiresAt)
	return token, nil
}

// Invalidate drops a cached token, forcing a refresh on the next use.
// Called after the remote API rejects a token as expired.
func (s *Service) Invalidate(ctx context.Context, slug string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, slug); err != nil {
		s.logger.Warn().Err(err).Str("account", slug).Msg("Failed to invalidate cached token")
	}
}

func (s *Service) refresh(ctx context.Context, acc *models.Account) (string, time.Time, error) {
	if acc.RefreshToken == "" {
		return "", time.Time{}, fmt.Errorf("account %s has no refresh token", acc.Slug)
	}

	conf := &oauth2.Config{
		ClientID:     acc.AppID,
		ClientSecret: acc.AppSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  s.tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: acc.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("refresh token for account %s: %w", acc.Slug, err)
	}

	refreshToken := tok.RefreshToken
	if refreshToken == "" {
		refreshToken = acc.RefreshToken
	}
	if err := s.store.UpdateAccountTokens(ctx, acc.Slug, tok.AccessToken, refreshToken, tok.Expiry); err != nil {
		// The token is still good for this process; losing the persisted
		// copy only costs an extra refresh after restart.
		s.logger.Error().Err(err).Str("account", acc.Slug).Msg("Failed to persist refreshed tokens")
	}

	s.logger.Info().Str("account", acc.Slug).Time("expires_at", tok.Expiry).Msg("Refreshed account token")
	return tok.AccessToken, tok.Expiry, nil
}

func (s *Service) cacheToken(ctx context.Context, slug, token string, expiresAt time.Time) {
	if s.cache == nil {
		return
	}
	ttl := time.Until(expiresAt) - refreshSkew
	if ttl <= 0 {
		return
	}
	if ttl > s.cacheTTL && s.cacheTTL > 0 {
		ttl = s.cacheTTL
	}
	if err := s.cache.Set(ctx, slug, token, ttl); err != nil {
		s.logger.Warn().Err(err).Str("account", slug).Msg("Failed to cache token")
	}
}

func (s *Service) accountLock(slug string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.refreshMu[slug]
	if !ok {
		lock = &sync.Mutex{}
		s.refreshMu[slug] = lock
	}
	return lock
}

// accountsFile mirrors the accounts.yaml layout.
type accountsFile struct {
	Accounts []models.Account `yaml:"accounts"`
}

// LoadAccountsFile reads the declarative account list used to seed the
// store at startup. Missing file is not an error so deployments can
// manage accounts through the API alone.
func LoadAccountsFile(path string) ([]models.Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	expanded := []byte(os.ExpandEnv(string(data)))
	var file accountsFile
	if err := yaml.Unmarshal(expanded, &file); err != nil {
		return nil, fmt.Errorf("parse accounts file: %w", err)
	}

	for i := range file.Accounts {
		if file.Accounts[i].Slug == "" {
			return nil, fmt.Errorf("account at index %d has no slug", i)
		}
	}
	return file.Accounts, nil
}
