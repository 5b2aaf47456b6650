package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/pkg/textutil"
)

// AffirmativeToken is the leading word that counts as "sufficient".
const AffirmativeToken = "YES"

const evaluatePrompt = `Based on the customer's original email and the listings found on eBay, judge whether the listing information is relevant and sufficient to fully answer the customer's question or request.

Original email:
---
%s
---

%s

Judgement: is the eBay listing information sufficient and relevant to answer the original email? Answer 'YES' or 'NO', followed by a short explanation.
Judgement:`

// RelevanceEvaluator asks the model whether listings answer the email.
type RelevanceEvaluator struct {
	caller *Caller
	model  *Model
	log    zerolog.Logger
}

func NewRelevanceEvaluator(caller *Caller, model *Model, log zerolog.Logger) *RelevanceEvaluator {
	return &RelevanceEvaluator{
		caller: caller,
		model:  model,
		log:    log.With().Str("component", "relevance_evaluator").Logger(),
	}
}

// IsSufficient is false for no items (without a call), on call failure, and
// for any answer whose first word is not AffirmativeToken.
func (e *RelevanceEvaluator) IsSufficient(ctx context.Context, body string, items []domain.CatalogItem) bool {
	if len(items) == 0 {
		return false
	}

	prompt := fmt.Sprintf(evaluatePrompt, textutil.Truncate(body, evaluateBodyLimit), itemContext(items))
	res := e.caller.Call(ctx, e.model, prompt)
	if !res.OK() {
		e.log.Warn().Err(res.Err).Msg("evaluation failed, treating as insufficient")
		return false
	}

	sufficient := startsWithWord(normalizeLabel(res.Text), AffirmativeToken)
	e.log.Info().Bool("sufficient", sufficient).Str("judgement", textutil.Truncate(res.Text, 200)).Msg("listings evaluated")
	return sufficient
}

// startsWithWord reports whether s begins with word and word is not the
// start of a longer one ("YESTERDAY").
func startsWithWord(s, word string) bool {
	if !strings.HasPrefix(s, word) {
		return false
	}
	next, _ := utf8.DecodeRuneInString(s[len(word):])
	return !unicode.IsLetter(next) && !unicode.IsDigit(next)
}

func normalizeLabel(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
