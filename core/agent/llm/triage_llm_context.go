package llm

import (
	"fmt"
	"strings"

	"triage_server/core/domain"
	"triage_server/pkg/textutil"
)

// Prompt input limits, in runes.
const (
	classifyBodyLimit = 2000
	paramsBodyLimit   = 2000
	evaluateBodyLimit = 1500
	replyBodyLimit    = 1500
	itemContextLimit  = 4000
)

// itemContext renders items for evaluation and generation prompts,
// capped at itemContextLimit.
func itemContext(items []domain.CatalogItem) string {
	var b strings.Builder
	b.WriteString("Relevant listings found on eBay:\n")
	for i, item := range items {
		fmt.Fprintf(&b, "--- Listing %d ---\n", i+1)
		fmt.Fprintf(&b, "Title: %s\n", orNA(item.Title))
		fmt.Fprintf(&b, "Price: %s\n", formatPrice(item))
		fmt.Fprintf(&b, "Link: %s\n", orNA(item.URL))
		fmt.Fprintf(&b, "Condition: %s\n", orNA(item.Condition))
		b.WriteString("---\n")
	}
	return textutil.Truncate(b.String(), itemContextLimit)
}

func formatPrice(item domain.CatalogItem) string {
	price := orNA(item.Price)
	if price == domain.NotAvailable || item.Currency == "" || item.Currency == domain.NotAvailable {
		return price
	}
	return price + " " + item.Currency
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return domain.NotAvailable
	}
	return s
}

// stripCodeFence removes a surrounding ```json ... ``` or ``` ... ``` block.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```JSON")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
