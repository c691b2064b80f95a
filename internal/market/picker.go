package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"polymarket-lp/internal/config"
	"polymarket-lp/pkg/types"
)

// Picker resolves a market slug to its token identifiers.
type Picker interface {
	Resolve(ctx context.Context, slug string) (*types.MarketRef, error)
}

// gammaMarket is the JSON shape returned by the Gamma API.
type gammaMarket struct {
	ID              string `json:"id"`
	Question        string `json:"question"`
	ConditionID     string `json:"conditionId"`
	Slug            string `json:"slug"`
	Active          bool   `json:"active"`
	Closed          bool   `json:"closed"`
	AcceptingOrders bool   `json:"acceptingOrders"`
	EnableOrderBook bool   `json:"enableOrderBook"`
	EndDate         string `json:"endDate"`
	ClobTokenIds    string `json:"clobTokenIds"`
}

// GammaPicker looks up markets on the Gamma API by slug. Resolved markets
// are cached with a TTL so repeated engine restarts against the same market
// don't hammer the discovery endpoint.
type GammaPicker struct {
	httpClient *resty.Client
	ttl        time.Duration
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]cachedRef
}

type cachedRef struct {
	ref     types.MarketRef
	fetched time.Time
}

// NewGammaPicker creates a slug resolver against the Gamma API.
func NewGammaPicker(cfg config.Config, logger *slog.Logger) *GammaPicker {
	client := resty.New().
		SetBaseURL(cfg.API.GammaBaseURL).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &GammaPicker{
		httpClient: client,
		ttl:        5 * time.Minute,
		cache:      make(map[string]cachedRef),
		logger:     logger.With("component", "picker"),
	}
}

// Resolve returns the market reference for a slug, fetching from the Gamma
// API unless a fresh cached copy exists. Markets that are closed or not
// accepting orders resolve to an error; farming a dead market is never
// what the operator wants.
func (p *GammaPicker) Resolve(ctx context.Context, slug string) (*types.MarketRef, error) {
	p.mu.Lock()
	if c, ok := p.cache[slug]; ok && time.Since(c.fetched) < p.ttl {
		p.mu.Unlock()
		ref := c.ref
		return &ref, nil
	}
	p.mu.Unlock()

	gm, err := p.fetchBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}

	ref, err := convertMarket(gm)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[slug] = cachedRef{ref: *ref, fetched: time.Now()}
	p.mu.Unlock()

	p.logger.Info("market resolved",
		"slug", ref.Slug,
		"condition_id", ref.ConditionID,
		"end_date", ref.EndDate,
	)
	return ref, nil
}

func (p *GammaPicker) fetchBySlug(ctx context.Context, slug string) (*gammaMarket, error) {
	var page []gammaMarket
	resp, err := p.httpClient.R().
		SetContext(ctx).
		SetQueryParam("slug", slug).
		SetResult(&page).
		Get("/markets")
	if err != nil {
		return nil, fmt.Errorf("fetch market %q: %w", slug, err)
	}
	if resp.StatusCode() != 200 {
		return nil, fmt.Errorf("fetch market %q: status %d", slug, resp.StatusCode())
	}
	if len(page) == 0 {
		return nil, fmt.Errorf("market %q not found", slug)
	}
	return &page[0], nil
}

// convertMarket transforms a Gamma API response into the internal MarketRef.
// It parses the JSON-encoded token ID pair and rejects markets that cannot
// be traded.
func convertMarket(gm *gammaMarket) (*types.MarketRef, error) {
	if !gm.Active || gm.Closed {
		return nil, fmt.Errorf("market %q is not active", gm.Slug)
	}
	if !gm.AcceptingOrders || !gm.EnableOrderBook {
		return nil, fmt.Errorf("market %q is not accepting orders", gm.Slug)
	}

	// Token IDs arrive as a JSON array string like "[\"id1\",\"id2\"]"
	var tokenIDs []string
	if gm.ClobTokenIds != "" {
		if err := json.Unmarshal([]byte(gm.ClobTokenIds), &tokenIDs); err != nil {
			return nil, fmt.Errorf("parse token ids for %q: %w", gm.Slug, err)
		}
	}
	if len(tokenIDs) < 2 {
		return nil, fmt.Errorf("market %q has no token pair", gm.Slug)
	}

	var endDate time.Time
	if gm.EndDate != "" {
		parsed, err := time.Parse(time.RFC3339, gm.EndDate)
		if err != nil {
			return nil, fmt.Errorf("parse end date for %q: %w", gm.Slug, err)
		}
		endDate = parsed
	}

	return &types.MarketRef{
		Slug:        gm.Slug,
		Title:       gm.Question,
		ConditionID: gm.ConditionID,
		YesTokenID:  tokenIDs[0],
		NoTokenID:   tokenIDs[1],
		EndDate:     endDate,
	}, nil
}
