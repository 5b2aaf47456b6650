package llm

import (
	"context"
	"errors"
	"fmt"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/pkg/apperr"
	"triage_server/pkg/textutil"
)

const searchParamsPrompt = `You are an expert on the eBay Browse API search endpoint (/item_summary/search).
Based on the customer's email, determine the most suitable search parameters for this endpoint.
The goal is to find listings on eBay related to the customer's request.

For the 'q' parameter, combine keywords as follows:
- Separate keywords with spaces to find items containing ALL keywords (AND). Example: "iphone ipad".
- Separate keywords with commas inside parentheses to find items containing ANY keyword (OR). Example: "(iphone, ipad)".

Available parameters:
- q (string): search keywords.
- gtin (string): Global Trade Item Number.
- charity_ids (array of string): charity organization ids.
- fieldgroups (array of string): response field groups.
- compatibility_filter (object): product compatibility attributes.
- auto_correct (array of string): keyword auto-correction (value: KEYWORD).
- category_ids (array of string): category ids.
- filter (array of string): field filters in the form 'name:value'. Examples:
  - price between 10 and 50 USD: "price:[10..50]", "priceCurrency:USD"
  - minimum price 10 USD: "price:[10]", "priceCurrency:USD"
  - maximum price 50 USD: "price:[..50]", "priceCurrency:USD"
  - new or used condition: "conditions:{NEW|USED}"
  - condition ids (New 1000, Used 3000): "conditionIds:{1000|3000}"
  See https://developer.ebay.com/api-docs/buy/static/ref-buy-browse-filters.html for all filters.
- sort (array of string): sort order, e.g. "-price".
- limit (string): items per page.
- offset (string): items to skip.
- aspect_filter (object): item aspect filters.
- epid (string): eBay product id.

Analyze the email below and return only a JSON object of parameter names and values.
Include only the parameters the customer's request actually needs.
If nothing beyond the product keywords is requested, return only 'q'.
Example output:
{
  "q": "product name",
  "filter": ["price:[10..100]", "conditions:{NEW}"],
  "sort": ["-price"],
  "limit": "50"
}
If no product keyword can be identified, return an empty object:
{}

Email body:
---
%s
---

eBay search parameter JSON object:`

// QuerySynthesizer turns an email body into marketplace search parameters.
type QuerySynthesizer struct {
	caller *Caller
	model  *Model
	log    zerolog.Logger
}

func NewQuerySynthesizer(caller *Caller, model *Model, log zerolog.Logger) *QuerySynthesizer {
	return &QuerySynthesizer{
		caller: caller,
		model:  model,
		log:    log.With().Str("component", "query_synthesizer").Logger(),
	}
}

// Synthesize returns the parsed parameters. It returns nil with an error when
// the call fails, the output is not a JSON object, or fields are present
// without the primary keyword. An empty object is returned as an empty set.
func (s *QuerySynthesizer) Synthesize(ctx context.Context, body string) (domain.SearchParameters, error) {
	if body == "" {
		return nil, apperr.InvalidPayload("empty body", nil)
	}

	prompt := fmt.Sprintf(searchParamsPrompt, textutil.Truncate(body, paramsBodyLimit))
	res := s.caller.Call(ctx, s.model, prompt)
	if !res.OK() {
		return nil, res.Err
	}

	params, err := parseSearchParameters(res.Text)
	if err != nil {
		s.log.Warn().Err(err).Str("raw", textutil.Truncate(res.Text, 200)).Msg("unusable search parameters")
		return nil, err
	}

	s.log.Info().Interface("params", params).Msg("search parameters generated")
	return params, nil
}

func parseSearchParameters(text string) (domain.SearchParameters, error) {
	var params domain.SearchParameters
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &params); err != nil {
		return nil, apperr.MalformedOutput("search parameters", err)
	}
	if params == nil {
		return nil, apperr.MalformedOutput("search parameters", errors.New("not a JSON object"))
	}
	if !params.IsEmpty() && !params.HasKeyword() {
		return nil, apperr.MalformedOutput("search parameters", errors.New("parameters present without 'q'"))
	}
	return params, nil
}
