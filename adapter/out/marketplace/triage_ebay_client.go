// Package marketplace implements catalog search against the eBay Browse API.
package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/core/port/out"
	"triage_server/pkg/apperr"
	"triage_server/pkg/httputil"
	"triage_server/pkg/resilience"
)

const serviceName = "ebay"

var _ out.CatalogSearcher = (*Client)(nil)

// Environment endpoints.
var (
	browseBaseURL = map[string]string{
		"sandbox":    "https://api.sandbox.ebay.com/buy/browse/v1",
		"production": "https://api.ebay.com/buy/browse/v1",
	}
	tokenURL = map[string]string{
		"sandbox":    "https://api.sandbox.ebay.com/identity/v1/oauth2/token",
		"production": "https://api.ebay.com/identity/v1/oauth2/token",
	}
)

type Config struct {
	ClientID      string
	ClientSecret  string
	Environment   string // sandbox | production
	MarketplaceID string // default: EBAY_US
	ResultLimit   int    // default: 50

	// Overrides, mainly for tests.
	BaseURL    string
	TokenURL   string
	HTTPClient *http.Client
}

// tokenSource is satisfied by *Session.
type tokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Client searches the catalog. Every failure degrades to an empty result.
type Client struct {
	session       tokenSource
	baseURL       string
	marketplaceID string
	resultLimit   int
	httpClient    *http.Client
	breaker       *resilience.Breaker
	log           zerolog.Logger
}

func NewClient(cfg Config, log zerolog.Logger) (*Client, error) {
	env := strings.ToLower(cfg.Environment)
	if env == "" {
		env = "sandbox"
	}

	base := cfg.BaseURL
	if base == "" {
		base = browseBaseURL[env]
	}
	tokURL := cfg.TokenURL
	if tokURL == "" {
		tokURL = tokenURL[env]
	}
	if base == "" || tokURL == "" {
		return nil, apperr.ConfigError(fmt.Sprintf("invalid eBay environment %q", cfg.Environment))
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = httputil.MarketplaceClient()
	}
	marketplaceID := cfg.MarketplaceID
	if marketplaceID == "" {
		marketplaceID = "EBAY_US"
	}
	limit := cfg.ResultLimit
	if limit <= 0 {
		limit = 50
	}

	l := log.With().Str("component", "ebay").Logger()
	return &Client{
		session:       NewSession(cfg.ClientID, cfg.ClientSecret, tokURL, httpClient),
		baseURL:       strings.TrimRight(base, "/"),
		marketplaceID: marketplaceID,
		resultLimit:   limit,
		httpClient:    httpClient,
		breaker:       resilience.New(resilience.Config{Name: "ebay-browse"}, l),
		log:           l,
	}, nil
}

func (c *Client) CircuitState() string {
	return c.breaker.State()
}

// Search runs /item_summary/search. Without a primary keyword it returns
// nothing and makes no request. A result-count cap is added when absent.
func (c *Client) Search(ctx context.Context, params domain.SearchParameters) []domain.CatalogItem {
	if !params.HasKeyword() {
		c.log.Warn().Msg("search parameters have no keyword")
		return []domain.CatalogItem{}
	}

	query := params.Clone()
	if _, ok := query["limit"]; !ok {
		query["limit"] = c.resultLimit
	}

	items, err := c.search(ctx, query)
	if err != nil {
		c.log.Error().Err(err).Str("query", params.Keyword()).Msg("search failed")
		return []domain.CatalogItem{}
	}

	c.log.Info().Str("query", params.Keyword()).Int("items", len(items)).Msg("search completed")
	return items
}

func (c *Client) search(ctx context.Context, params domain.SearchParameters) ([]domain.CatalogItem, error) {
	token, err := c.session.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("obtain token: %w", err)
	}

	endpoint := c.baseURL + "/item_summary/search?" + EncodeParams(params).Encode()

	var resp searchResponse
	err = c.breaker.Execute(ctx, "search", func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("X-EBAY-C-MARKETPLACE-ID", c.marketplaceID)
		req.Header.Set("Content-Type", "application/json")

		res, err := c.httpClient.Do(req)
		if err != nil {
			return apperr.Transient(serviceName, err)
		}
		defer res.Body.Close()

		if err := httputil.StatusError(serviceName, res); err != nil {
			if res.StatusCode == http.StatusUnauthorized {
				c.session.Invalidate()
			}
			return err
		}
		if err := json.NewDecoder(res.Body).Decode(&resp); err != nil {
			return apperr.Rejected(serviceName, fmt.Errorf("decode search response: %w", err))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return resp.normalize(), nil
}

// EncodeParams renders search parameters as query values. Arrays are
// comma-joined; objects become sorted "k:v" pairs joined by ';'.
func EncodeParams(params domain.SearchParameters) url.Values {
	values := url.Values{}
	for k, v := range params {
		if v == nil {
			continue
		}
		values.Set(k, encodeValue(v))
	}
	return values
}

func encodeValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, encodeValue(e))
		}
		return strings.Join(parts, ",")
	case []string:
		return strings.Join(t, ",")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+":"+encodeValue(t[k]))
		}
		return strings.Join(parts, ";")
	default:
		return fmt.Sprint(t)
	}
}

type searchResponse struct {
	Total         int           `json:"total"`
	ItemSummaries []itemSummary `json:"itemSummaries"`
}

type itemSummary struct {
	Title      string `json:"title"`
	ItemID     string `json:"itemId"`
	ItemWebURL string `json:"itemWebUrl"`
	Condition  string `json:"condition"`
	Price      *struct {
		Value    any    `json:"value"`
		Currency string `json:"currency"`
	} `json:"price"`
}

func (r *searchResponse) normalize() []domain.CatalogItem {
	items := make([]domain.CatalogItem, 0, len(r.ItemSummaries))
	for _, s := range r.ItemSummaries {
		item := domain.CatalogItem{
			Title:      orNA(s.Title),
			ExternalID: orNA(s.ItemID),
			URL:        orNA(s.ItemWebURL),
			Condition:  orNA(s.Condition),
			Price:      domain.NotAvailable,
			Currency:   domain.NotAvailable,
		}
		if s.Price != nil {
			if s.Price.Value != nil {
				item.Price = orNA(encodeValue(s.Price.Value))
			}
			item.Currency = orNA(s.Price.Currency)
		}
		items = append(items, item)
	}
	return items
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return domain.NotAvailable
	}
	return s
}
