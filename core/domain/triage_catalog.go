package domain

import (
	"fmt"
	"strings"
)

// KeywordParam is the primary keyword field of a marketplace search.
const KeywordParam = "q"

// NotAvailable fills catalog fields the provider did not return.
const NotAvailable = "N/A"

// SearchParameters maps marketplace parameter names to values.
// An empty set means no actionable product reference was found.
type SearchParameters map[string]any

// Keyword returns the primary keyword, trimmed. Non-string values are formatted.
func (p SearchParameters) Keyword() string {
	v, ok := p[KeywordParam]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

// HasKeyword reports whether a usable primary keyword is present.
func (p SearchParameters) HasKeyword() bool {
	return p.Keyword() != ""
}

// IsEmpty reports whether no parameters were produced.
func (p SearchParameters) IsEmpty() bool {
	return len(p) == 0
}

// Clone returns a shallow copy so callers can add defaults without mutating input.
func (p SearchParameters) Clone() SearchParameters {
	out := make(SearchParameters, len(p)+1)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// CatalogItem is one normalized marketplace listing.
type CatalogItem struct {
	Title      string `json:"title"`
	ExternalID string `json:"itemId"`
	URL        string `json:"itemWebUrl"`
	Price      string `json:"price"`
	Currency   string `json:"currency"`
	Condition  string `json:"condition"`
}
