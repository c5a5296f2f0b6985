// Package catalog talks to a Jikan-style catalog API. The client keeps a
// read-through item cache, throttles its own request rate, and filters
// random items through the content policy before handing them out.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"mangadrop/internal/clock"
	"mangadrop/internal/domain"
	"mangadrop/internal/logging"
	"mangadrop/internal/metrics"
)

var (
	ErrNotFound       = errors.New("item not found")
	ErrNoEligibleItem = errors.New("no policy-eligible item found")
)

type ClientConfig struct {
	BaseURL string
	// ThrottleRPS caps outgoing requests; the upstream API enforces its
	// own limit and answers 429 past it.
	ThrottleRPS    float64
	ThrottleBurst  int
	FetchRetries   int
	PolicyAttempts int
	RetryDelay     time.Duration
	CacheTTL       time.Duration
	CacheMaxSize   int
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:        "https://api.jikan.moe/v4",
		ThrottleRPS:    2,
		ThrottleBurst:  3,
		FetchRetries:   3,
		PolicyAttempts: 5,
		RetryDelay:     time.Second,
		CacheTTL:       time.Hour,
		CacheMaxSize:   100,
	}
}

type Client struct {
	cfg        ClientConfig
	httpClient *http.Client
	throttle   *rate.Limiter
	cache      *ItemCache
	policy     ContentPolicy
	logger     *log.Logger
	metrics    *metrics.Counters
}

func NewClient(cfg ClientConfig, policy ContentPolicy, clk clock.Clock, logger *log.Logger, counters *metrics.Counters) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		throttle: rate.NewLimiter(rate.Limit(cfg.ThrottleRPS), cfg.ThrottleBurst),
		cache:    NewItemCache(clk, cfg.CacheTTL, cfg.CacheMaxSize),
		policy:   policy,
		logger:   logger,
		metrics:  counters,
	}
}

func (c *Client) Policy() ContentPolicy {
	return c.policy
}

// FetchByID returns the item with the given catalog ID, serving repeat
// lookups from the cache.
func (c *Client) FetchByID(ctx context.Context, id int) (domain.Item, error) {
	cacheKey := "item:" + strconv.Itoa(id)
	if item, ok := c.cache.Get(cacheKey); ok {
		if c.metrics != nil {
			c.metrics.IncCacheHits()
		}
		return item, nil
	}
	if c.metrics != nil {
		c.metrics.IncCacheMisses()
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.FetchRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
				return domain.Item{}, err
			}
		}

		item, err := c.fetchItem(ctx, fmt.Sprintf("%s/manga/%d", c.cfg.BaseURL, id))
		switch {
		case err == nil:
			c.cache.Put(cacheKey, item)
			return item, nil
		case errors.Is(err, ErrNotFound):
			return domain.Item{}, ErrNotFound
		default:
			lastErr = err
		}
	}
	return domain.Item{}, fmt.Errorf("fetch item %d: %w", id, lastErr)
}

// FetchRandom returns a random item that passes the content policy,
// re-fetching up to the configured attempt budget when a draw is denied.
func (c *Client) FetchRandom(ctx context.Context) (domain.Item, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.PolicyAttempts; attempt++ {
		if attempt > 0 && lastErr != nil {
			if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
				return domain.Item{}, err
			}
		}

		item, err := c.fetchItem(ctx, c.cfg.BaseURL+"/random/manga?sfw=true")
		if err != nil {
			lastErr = err
			continue
		}
		lastErr = nil

		if !c.policy.Allows(item) {
			logging.Allowlist(c.logger, map[string]string{
				"event":   "item_filtered",
				"item_id": strconv.Itoa(item.ID),
			})
			continue
		}

		c.cache.Put("item:"+strconv.Itoa(item.ID), item)
		return item, nil
	}
	if lastErr != nil {
		return domain.Item{}, fmt.Errorf("fetch random item: %w", lastErr)
	}
	return domain.Item{}, ErrNoEligibleItem
}

func (c *Client) fetchItem(ctx context.Context, url string) (domain.Item, error) {
	if err := c.throttle.Wait(ctx); err != nil {
		return domain.Item{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domain.Item{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.Item{}, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return domain.Item{}, ErrNotFound
	case http.StatusTooManyRequests:
		return domain.Item{}, fmt.Errorf("catalog throttled request: status %d", resp.StatusCode)
	default:
		return domain.Item{}, fmt.Errorf("catalog request failed: status %d", resp.StatusCode)
	}

	var envelope struct {
		Data itemPayload `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return domain.Item{}, fmt.Errorf("decode catalog response: %w", err)
	}
	if envelope.Data.MalID == 0 || envelope.Data.Title == "" {
		return domain.Item{}, errors.New("catalog returned incomplete item")
	}
	return envelope.Data.toItem(), nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type namedPayload struct {
	Name string `json:"name"`
}

type itemPayload struct {
	MalID  int    `json:"mal_id"`
	Title  string `json:"title"`
	URL    string `json:"url"`
	Images struct {
		JPG struct {
			ImageURL      string `json:"image_url"`
			LargeImageURL string `json:"large_image_url"`
		} `json:"jpg"`
	} `json:"images"`
	Synopsis     string         `json:"synopsis"`
	Popularity   int            `json:"popularity"`
	Score        float64        `json:"score"`
	Members      int            `json:"members"`
	Favorites    int            `json:"favorites"`
	Status       string         `json:"status"`
	Genres       []namedPayload `json:"genres"`
	Demographics []namedPayload `json:"demographics"`
	Rating       string         `json:"rating"`
}

func (p itemPayload) toItem() domain.Item {
	image := p.Images.JPG.LargeImageURL
	if image == "" {
		image = p.Images.JPG.ImageURL
	}
	item := domain.Item{
		ID:         p.MalID,
		Title:      p.Title,
		URL:        p.URL,
		ImageURL:   image,
		Synopsis:   p.Synopsis,
		Popularity: p.Popularity,
		Score:      p.Score,
		Members:    p.Members,
		Favorites:  p.Favorites,
		Status:     domain.ParseStatus(p.Status),
		Rating:     p.Rating,
	}
	for _, genre := range p.Genres {
		item.Genres = append(item.Genres, genre.Name)
	}
	for _, demographic := range p.Demographics {
		item.Demographics = append(item.Demographics, demographic.Name)
	}
	return item
}
