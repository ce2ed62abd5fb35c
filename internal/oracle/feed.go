package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	sdkmath "cosmossdk.io/math"

	"github.com/vmaiops-alt/leveraged-sub002/internal/logger"
	"github.com/vmaiops-alt/leveraged-sub002/internal/types"
)

var feedLogger = logger.GetForComponent("oracle_feed")

// feedResponse is the wire shape of the price endpoint: feed identifier to
// decimal price string.
type feedResponse struct {
	Prices map[string]string `json:"prices"`
}

// Feed polls an HTTP price endpoint and serves cached quotes. GetPrice never
// performs I/O: engine operations read the latest committed quote and refuse
// to run when it has gone stale.
type Feed struct {
	endpoint string
	feeds    map[string]string // asset symbol -> feed identifier
	maxAge   time.Duration
	client   *http.Client

	mu     sync.RWMutex
	quotes map[string]quote

	now func() time.Time
}

// NewFeed creates a feed client for the given endpoint. feeds maps the
// engine's asset symbols to the identifiers the endpoint uses.
func NewFeed(endpoint string, feeds map[string]string, maxAge time.Duration) *Feed {
	return &Feed{
		endpoint: endpoint,
		feeds:    feeds,
		maxAge:   maxAge,
		client:   &http.Client{Timeout: 10 * time.Second},
		quotes:   make(map[string]quote),
		now:      time.Now,
	}
}

// Refresh fetches the endpoint once and replaces cached quotes for every feed
// identifier present in the response. Identifiers the response omits keep
// their old quote and age out naturally.
func (f *Feed) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.endpoint, nil)
	if err != nil {
		return fmt.Errorf("failed to build price feed request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("price feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("price feed returned status %d", resp.StatusCode)
	}

	var body feedResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode price feed response: %w", err)
	}

	fetchedAt := f.now()
	updated := 0

	f.mu.Lock()
	for feedID, raw := range body.Prices {
		price, err := sdkmath.LegacyNewDecFromStr(raw)
		if err != nil {
			feedLogger.Warn().Str("feed", feedID).Str("raw", raw).Msg("Skipping unparsable price")
			continue
		}
		if !price.IsPositive() {
			feedLogger.Warn().Str("feed", feedID).Str("price", price.String()).Msg("Skipping non-positive price")
			continue
		}
		f.quotes[feedID] = quote{price: price, at: fetchedAt}
		updated++
	}
	f.mu.Unlock()

	feedLogger.Debug().Int("updated", updated).Msg("Price feed refreshed")
	return nil
}

// Poll refreshes on a fixed interval until the context is cancelled. Failures
// are logged and retried on the next tick; consumers see staleness instead.
func (f *Feed) Poll(ctx context.Context, interval time.Duration) {
	if err := f.Refresh(ctx); err != nil {
		feedLogger.Error().Err(err).Msg("Initial price feed refresh failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			feedLogger.Info().Msg("Price feed polling stopped")
			return
		case <-ticker.C:
			if err := f.Refresh(ctx); err != nil {
				feedLogger.Error().Err(err).Msg("Price feed refresh failed")
			}
		}
	}
}

// GetPrice implements Oracle from the latest cached quotes.
func (f *Feed) GetPrice(asset string) (sdkmath.LegacyDec, error) {
	feedID, ok := f.feeds[asset]
	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: %s has no price feed", types.ErrAssetNotSupported, asset)
	}

	f.mu.RLock()
	q, ok := f.quotes[feedID]
	f.mu.RUnlock()

	if !ok {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: no quote yet for %s", types.ErrStaleOracle, asset)
	}
	if age := f.now().Sub(q.at); f.maxAge > 0 && age > f.maxAge {
		return sdkmath.LegacyDec{}, fmt.Errorf("%w: quote for %s is %s old", types.ErrStaleOracle, asset, age)
	}
	return q.price, nil
}
