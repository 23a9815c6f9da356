package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/updownbot/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API, which
// provides market discovery and metadata.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string) *GammaClient {
	return &GammaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 20 * time.Second,
		},
	}
}

// ListActiveMarkets returns up to limit active markets.
func (g *GammaClient) ListActiveMarkets(ctx context.Context, limit int) ([]APIMarket, error) {
	params := url.Values{}
	params.Set("active", "true")
	params.Set("closed", "false")
	params.Set("limit", strconv.Itoa(limit))

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list markets: %w", err)
	}

	var markets []APIMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	return markets, nil
}

// GetMarketBySlug returns a single market looked up by its URL slug.
func (g *GammaClient) GetMarketBySlug(ctx context.Context, slug string) (APIMarket, error) {
	params := url.Values{}
	params.Set("slug", slug)

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: get market by slug %s: %w", slug, err)
	}

	var markets []APIMarket
	if err := json.Unmarshal(body, &markets); err != nil {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}
	if len(markets) == 0 {
		return APIMarket{}, fmt.Errorf("polymarket/gamma: %w: slug=%s", domain.ErrNotFound, slug)
	}
	return markets[0], nil
}

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// --------------------------------------------------------------------------
// Window discovery
// --------------------------------------------------------------------------

// Discoverer resolves the currently tradable BTC Up/Down window from Gamma.
type Discoverer struct {
	gamma  *GammaClient
	window time.Duration
	limit  int
}

// NewDiscoverer creates a Discoverer over gamma. window is the contract
// length, used when Gamma omits the window start.
func NewDiscoverer(gamma *GammaClient, window time.Duration) *Discoverer {
	return &Discoverer{gamma: gamma, window: window, limit: 200}
}

// ResolveActiveWindow returns the Up/Down window whose end is nearest in
// the future. It fails with domain.ErrDiscovery when none is listed and
// domain.ErrAmbiguousWindow when the chosen market's outcomes do not map
// cleanly onto up and down.
func (d *Discoverer) ResolveActiveWindow(ctx context.Context, now time.Time) (domain.MarketWindow, error) {
	markets, err := d.gamma.ListActiveMarkets(ctx, d.limit)
	if err != nil {
		return domain.MarketWindow{}, fmt.Errorf("%w: %w", domain.ErrDiscovery, err)
	}
	return SelectWindow(markets, now, d.window)
}

// SelectWindow applies the discovery rules to a market listing: the
// question mentions bitcoin, up and down; the end date is not past; there
// are at least two outcomes and token ids. The candidate ending soonest
// wins.
func SelectWindow(markets []APIMarket, now time.Time, window time.Duration) (domain.MarketWindow, error) {
	type candidate struct {
		m   APIMarket
		end time.Time
	}
	var cands []candidate
	for _, m := range markets {
		q := strings.ToLower(m.Question)
		if !strings.Contains(q, "bitcoin") || !strings.Contains(q, "up") || !strings.Contains(q, "down") {
			continue
		}
		if bool(m.Closed) {
			continue
		}
		end, ok := m.End()
		if ok && end.Before(now) {
			continue
		}
		if len(m.Outcomes) < 2 || len(m.ClobTokenIDs) < 2 {
			continue
		}
		cands = append(cands, candidate{m: m, end: end})
	}
	if len(cands) == 0 {
		return domain.MarketWindow{}, fmt.Errorf("%w: no bitcoin up/down market listed", domain.ErrDiscovery)
	}

	// Markets without an end date sort last.
	sort.SliceStable(cands, func(i, j int) bool {
		ei, ej := cands[i].end, cands[j].end
		if ei.IsZero() != ej.IsZero() {
			return ej.IsZero()
		}
		return ei.Before(ej)
	})

	best := cands[0].m
	up, down, err := mapOutcomes(best.Outcomes, best.ClobTokenIDs)
	if err != nil {
		return domain.MarketWindow{}, fmt.Errorf("market %s: %w", best.Slug, err)
	}

	slug := best.Slug
	if slug == "" {
		slug = best.ID
	}
	return domain.MarketWindow{
		Slug:        slug,
		Question:    best.Question,
		Start:       best.WindowStart(window),
		End:         cands[0].end,
		UpTokenID:   up,
		DownTokenID: down,
		Status:      domain.WindowStatusActive,
	}, nil
}

func mapOutcomes(outcomes, tokens []string) (up, down string, err error) {
	n := min(len(outcomes), len(tokens))
	for i := 0; i < n; i++ {
		name := strings.ToLower(outcomes[i])
		isUp := strings.Contains(name, "up")
		isDown := strings.Contains(name, "down")
		switch {
		case isUp && isDown:
			return "", "", fmt.Errorf("%w: outcome %q names both sides", domain.ErrAmbiguousWindow, outcomes[i])
		case isUp:
			if up != "" {
				return "", "", fmt.Errorf("%w: two up outcomes", domain.ErrAmbiguousWindow)
			}
			up = tokens[i]
		case isDown:
			if down != "" {
				return "", "", fmt.Errorf("%w: two down outcomes", domain.ErrAmbiguousWindow)
			}
			down = tokens[i]
		}
	}
	if up == "" || down == "" || up == down {
		return "", "", fmt.Errorf("%w: outcomes %v", domain.ErrAmbiguousWindow, outcomes)
	}
	return up, down, nil
}
