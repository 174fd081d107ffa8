package chivemaster

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
)

// ProfileScore is the shape returned by the external profile service for a
// single player account.
type ProfileScore struct {
	GlobalRank       int64  `json:"global_rank"`
	AchievementCount int64  `json:"achievement_count"`
	Name             string `json:"name"`
	Signature        string `json:"signature"`
}

func (p ProfileScore) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("global_rank", p.GlobalRank),
		slog.Int64("achievement_count", p.AchievementCount),
		slog.String("name", p.Name),
	)
}

// ProfileClient fetches player scores from the external profile service.
//
// Get is a read, falling back to a forced recomputation when the service
// has no cached value for the ID. Put always forces a recomputation - used
// when freshness matters more than latency (verification checks, explicit
// update requests).
type ProfileClient interface {
	Get(ctx context.Context, externalID int64) (*ProfileScore, error)
	Put(ctx context.Context, externalID int64) (*ProfileScore, error)
}

// scoreCacheEntry pairs a cached score with its insertion time.
type scoreCacheEntry struct {
	score   ProfileScore
	addedAt time.Time
}

// scoreCache is a bounded, TTL-limited cache of profile scores. When full,
// the oldest entry (by insertion order) is evicted. It is owned by the
// profile client and shared by the reconcilers through it - there is no
// ambient global cache.
type scoreCache struct {
	mu       sync.Mutex
	entries  map[int64]scoreCacheEntry
	order    []int64
	capacity int
	ttl      time.Duration
}

func newScoreCache(capacity int, ttl time.Duration) *scoreCache {
	return &scoreCache{
		entries:  make(map[int64]scoreCacheEntry, capacity),
		capacity: capacity,
		ttl:      ttl,
	}
}

func (c *scoreCache) get(externalID int64) (*ProfileScore, bool) {
	if c.capacity == 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[externalID]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(entry.addedAt) > c.ttl {
		delete(c.entries, externalID)
		return nil, false
	}
	score := entry.score
	return &score, true
}

func (c *scoreCache) put(externalID int64, score ProfileScore) {
	if c.capacity == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[externalID]; !exists {
		c.order = append(c.order, externalID)
	}
	c.entries[externalID] = scoreCacheEntry{score: score, addedAt: time.Now()}

	for len(c.entries) > c.capacity && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *scoreCache) invalidate(externalID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, externalID)
}

// profileAPI implements ProfileClient over HTTP.
type profileAPI struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *scoreCache
	logger     *slog.Logger
}

// newProfileClient creates a ProfileClient using the given config.
func newProfileClient(
	config *ProfileConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) ProfileClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &profileAPI{
		baseURL:    config.BaseURL,
		httpClient: httpClient,
		limiter: rate.NewLimiter(
			rate.Limit(config.MaxRequestsPerSecond),
			1,
		),
		cache:  newScoreCache(config.CacheSize, config.CacheTTL),
		logger: logger.With(loggerNameKey, "profile"),
	}
}

func (p *profileAPI) scoreURL(externalID int64) string {
	return fmt.Sprintf("%s/api/scores/achievements/%d", p.baseURL, externalID)
}

func (p *profileAPI) do(
	ctx context.Context,
	method string,
	externalID int64,
) (*ProfileScore, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(
		ctx,
		method,
		p.scoreURL(externalID),
		nil,
	)
	if err != nil {
		return nil, err
	}
	rv, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer func() {
		_ = rv.Body.Close()
	}()

	if rv.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"profile request for %d returned status %d",
			externalID,
			rv.StatusCode,
		)
	}

	var score ProfileScore
	if err = json.NewDecoder(rv.Body).Decode(&score); err != nil {
		return nil, fmt.Errorf("error decoding profile response: %w", err)
	}
	return &score, nil
}

func (p *profileAPI) Get(ctx context.Context, externalID int64) (
	*ProfileScore,
	error,
) {
	if score, ok := p.cache.get(externalID); ok {
		return score, nil
	}

	score, err := p.do(ctx, http.MethodGet, externalID)
	if err != nil {
		// the service may not have computed this ID yet - force it
		p.logger.DebugContext(
			ctx,
			"score read failed, forcing recompute",
			"external_id", externalID,
			tint.Err(err),
		)
		score, err = p.do(ctx, http.MethodPut, externalID)
		if err != nil {
			return nil, fmt.Errorf("%w: %d", err, externalID)
		}
	}

	p.cache.put(externalID, *score)
	return score, nil
}

func (p *profileAPI) Put(ctx context.Context, externalID int64) (
	*ProfileScore,
	error,
) {
	score, err := p.do(ctx, http.MethodPut, externalID)
	if err != nil {
		p.cache.invalidate(externalID)
		return nil, err
	}
	p.cache.put(externalID, *score)
	return score, nil
}
