package llm

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"triage_server/core/domain"
	"triage_server/pkg/apperr"
)

func sampleItems(n int) []domain.CatalogItem {
	items := make([]domain.CatalogItem, n)
	for i := range items {
		items[i] = domain.CatalogItem{
			Title:      fmt.Sprintf("ThinkPad T470 #%d", i+1),
			ExternalID: fmt.Sprintf("v1|%d|0", i+1),
			URL:        fmt.Sprintf("https://www.ebay.com/itm/%d", i+1),
			Price:      "199.99",
			Currency:   "USD",
			Condition:  "Used",
		}
	}
	return items
}

func TestClassifierLabels(t *testing.T) {
	tests := []struct {
		name     string
		output   string
		expected domain.Classification
	}{
		{"spam", "SPAM", domain.ClassificationSpam},
		{"lowercase spam", " spam\n", domain.ClassificationSpam},
		{"process", "Process", domain.ClassificationProcess},
		{"chatty", "I believe this is SPAM.", domain.ClassificationProcess},
		{"other label", "NEWSLETTER", domain.ClassificationProcess},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(testCaller(), NewModel("cls", replying(tt.output)), zerolog.Nop())
			got, err := c.Classify(context.Background(), "subject", "body")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestClassifierFailure(t *testing.T) {
	c := NewClassifier(testCaller(), NewModel("cls", failing(apperr.SafetyBlock("content_filter"))), zerolog.Nop())
	got, err := c.Classify(context.Background(), "subject", "body")
	if got != domain.ClassificationUnknown || err == nil {
		t.Errorf("expected UNKNOWN with an error, got %s, %v", got, err)
	}
}

func TestClassifierTruncatesBody(t *testing.T) {
	fake := replying("PROCESS")
	c := NewClassifier(testCaller(), NewModel("cls", fake), zerolog.Nop())
	c.Classify(context.Background(), "subject", strings.Repeat("x", 3000))

	prompt := fake.prompts[0]
	if !strings.Contains(prompt, strings.Repeat("x", 2000)) || strings.Contains(prompt, strings.Repeat("x", 2001)) {
		t.Error("expected the body to be cut to 2000 characters")
	}
}

func TestSynthesizer(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		wantNil bool
		keyword string
		size    int
	}{
		{"keyword only", `{"q": "thinkpad t470"}`, false, "thinkpad t470", 1},
		{"fenced", "```json\n{\"q\": \"iphone\", \"limit\": \"5\"}\n```", false, "iphone", 2},
		{"bare fence", "```\n{\"q\": \"ipad\"}\n```", false, "ipad", 1},
		{"empty object", `{}`, false, "", 0},
		{"fields without keyword", `{"filter": ["price:[..50]"], "sort": ["-price"]}`, true, "", 0},
		{"unknown field without keyword", `{"color": "red"}`, true, "", 0},
		{"blank keyword", `{"q": "  ", "limit": "5"}`, true, "", 0},
		{"not json", `Sure! Here are the parameters: q=laptop`, true, "", 0},
		{"array", `["q"]`, true, "", 0},
		{"null", `null`, true, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewQuerySynthesizer(testCaller(), NewModel("gen", replying(tt.output)), zerolog.Nop())
			params, err := s.Synthesize(context.Background(), "I need a thinkpad t470 under $200")

			if tt.wantNil {
				if params != nil {
					t.Fatalf("expected nil, got %v", params)
				}
				if err == nil {
					t.Error("expected an error with nil parameters")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if params == nil {
				t.Fatal("expected non-nil parameters")
			}
			if params.Keyword() != tt.keyword || len(params) != tt.size {
				t.Errorf("expected keyword %q with %d fields, got %v", tt.keyword, tt.size, params)
			}
		})
	}
}

func TestSynthesizerCallFailure(t *testing.T) {
	s := NewQuerySynthesizer(testCaller(), UnavailableModel("gen", nil), zerolog.Nop())
	params, err := s.Synthesize(context.Background(), "body")
	if params != nil || err == nil {
		t.Errorf("expected nil with error, got %v, %v", params, err)
	}
}

func TestEvaluatorEmptyItemsMakesNoCall(t *testing.T) {
	fake := replying("YES")
	e := NewRelevanceEvaluator(testCaller(), NewModel("gen", fake), zerolog.Nop())

	if e.IsSufficient(context.Background(), "body", nil) {
		t.Error("expected false for no items")
	}
	if fake.calls != 0 {
		t.Errorf("expected no calls, got %d", fake.calls)
	}
}

func TestEvaluatorAnswers(t *testing.T) {
	tests := []struct {
		output   string
		expected bool
	}{
		{"YES, the listings match the request.", true},
		{"yes", true},
		{"NO, the customer asked about shipping.", false},
		{"I think YES", false},
		{"Yes.", true},
		{"YES\nThe listings match.", true},
		{"Yesterday the customer asked about shipping.", false},
		{"YESNO", false},
	}

	for _, tt := range tests {
		e := NewRelevanceEvaluator(testCaller(), NewModel("gen", replying(tt.output)), zerolog.Nop())
		if got := e.IsSufficient(context.Background(), "body", sampleItems(2)); got != tt.expected {
			t.Errorf("%q: expected %v, got %v", tt.output, tt.expected, got)
		}
	}
}

func TestEvaluatorFailureIsInsufficient(t *testing.T) {
	e := NewRelevanceEvaluator(testCaller(), NewModel("gen", failing(apperr.SafetyBlock("x"))), zerolog.Nop())
	if e.IsSufficient(context.Background(), "body", sampleItems(1)) {
		t.Error("expected false on failure")
	}
}

func TestGeneratorFallbackMakesNoCall(t *testing.T) {
	fake := replying("should not be used")
	g := NewReplyGenerator(testCaller(), NewModel("gen", fake), "", zerolog.Nop())

	reply, err := g.GenerateReply(context.Background(), "subject", "body", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != FallbackReply {
		t.Errorf("expected fallback text, got %q", reply)
	}
	if fake.calls != 0 {
		t.Errorf("expected no calls, got %d", fake.calls)
	}
}

func TestGeneratorGroundsPromptInItems(t *testing.T) {
	fake := replying("Dear customer, ...")
	g := NewReplyGenerator(testCaller(), NewModel("gen", fake), "Vietnamese", zerolog.Nop())

	reply, err := g.GenerateReply(context.Background(), "T470?", "Do you have a T470?", sampleItems(3))
	if err != nil || reply != "Dear customer, ..." {
		t.Fatalf("unexpected result %q, %v", reply, err)
	}

	prompt := fake.prompts[0]
	for _, want := range []string{"ThinkPad T470 #3", "https://www.ebay.com/itm/2", "199.99 USD", "Vietnamese"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("expected prompt to contain %q", want)
		}
	}
}

func TestGeneratorFailure(t *testing.T) {
	g := NewReplyGenerator(testCaller(), NewModel("gen", failing(apperr.SafetyBlock("x"))), "", zerolog.Nop())
	if _, err := g.GenerateReply(context.Background(), "s", "b", sampleItems(1)); err == nil {
		t.Error("expected an error")
	}
}

func TestItemContext(t *testing.T) {
	ctx := itemContext([]domain.CatalogItem{{Title: "Widget", Price: domain.NotAvailable, Currency: domain.NotAvailable}})
	for _, want := range []string{"Title: Widget", "Price: N/A", "Link: N/A", "Condition: N/A"} {
		if !strings.Contains(ctx, want) {
			t.Errorf("expected %q in %q", want, ctx)
		}
	}

	long := itemContext(sampleItems(200))
	if n := len([]rune(long)); n > itemContextLimit {
		t.Errorf("expected at most %d runes, got %d", itemContextLimit, n)
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"```json\n{}\n```", "{}"},
		{"```\n{\"q\":1}\n```", "{\"q\":1}"},
		{"  {}  ", "{}"},
	}

	for _, tt := range tests {
		if got := stripCodeFence(tt.input); got != tt.expected {
			t.Errorf("expected %q, got %q", tt.expected, got)
		}
	}
}
