package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Lllllllleong/companyreportflow/internal/gateway"
	"github.com/Lllllllleong/companyreportflow/internal/markup"
	"github.com/Lllllllleong/companyreportflow/internal/models"
)

var overview = models.SectionDefinition{Number: 1, Title: "Company Overview", Specs: "Describe the company."}

func TestGenerateInitial_Success(t *testing.T) {
	model := &scriptedModel{respond: func(gateway.Request) (gateway.Reply, error) {
		return gateway.TextReply("```html\n<div><h2>1. Company Overview</h2><p>Acme makes anvils.</p></div>\n```"), nil
	}}
	w := &SectionWriter{Gateway: testGateway(), Model: model, CompanyName: "Acme"}

	res := w.GenerateInitial(context.Background(), overview)

	if res.IsError {
		t.Fatalf("unexpected error result: %s", res.Content)
	}
	if res.SectionNumber != 1 {
		t.Errorf("SectionNumber = %d", res.SectionNumber)
	}
	for _, want := range []string{`id="section-1"`, "<h2>1. Company Overview</h2>", "Acme makes anvils."} {
		if !strings.Contains(res.Content, want) {
			t.Errorf("content missing %q:\n%s", want, res.Content)
		}
	}
	if strings.Contains(res.Content, "```") {
		t.Error("fences survived")
	}
	if !markup.Validate(res.Content) {
		t.Error("content does not validate")
	}
}

func TestGenerateInitial_FailuresBecomePlaceholders(t *testing.T) {
	tests := []struct {
		name    string
		respond func(gateway.Request) (gateway.Reply, error)
		reason  string
	}{
		{
			name:    "blocked reply",
			respond: func(gateway.Request) (gateway.Reply, error) { return gateway.BlockedReply("SAFETY"), nil },
			reason:  "blocked",
		},
		{
			name:    "empty reply",
			respond: func(gateway.Request) (gateway.Reply, error) { return gateway.EmptyReply("no candidates"), nil },
			reason:  "no content",
		},
		{
			name:    "only fences",
			respond: func(gateway.Request) (gateway.Reply, error) { return gateway.TextReply("```html\n```"), nil },
			reason:  "no content",
		},
		{
			name: "transient errors exhaust retries",
			respond: func(gateway.Request) (gateway.Reply, error) {
				return gateway.Reply{}, &gateway.TransientError{Code: "Unavailable", Err: errors.New("503")}
			},
			reason: "unavailable",
		},
		{
			name:    "transport panics",
			respond: func(gateway.Request) (gateway.Reply, error) { panic("nil pointer in transport") },
			reason:  "nil pointer in transport",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := &SectionWriter{Gateway: testGateway(), Model: &scriptedModel{respond: tt.respond}}
			res := w.GenerateInitial(context.Background(), overview)
			if !res.IsError || res.SectionNumber != 1 {
				t.Fatalf("result = %+v, want error result for section 1", res)
			}
			if !strings.Contains(res.Content, "1. Company Overview") {
				t.Errorf("placeholder missing section heading:\n%s", res.Content)
			}
			if !strings.Contains(strings.ToLower(res.Content), tt.reason) {
				t.Errorf("placeholder missing reason %q:\n%s", tt.reason, res.Content)
			}
			if !markup.Validate(res.Content) {
				t.Error("placeholder does not validate")
			}
		})
	}
}
