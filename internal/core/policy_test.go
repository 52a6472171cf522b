package core

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/valter-silva-au/ai-employee/pkg/models"
)

func newTestEvaluator(t *testing.T, cfg models.PolicyConfig, sensitive ...string) PolicyEvaluator {
	t.Helper()
	set, err := NewPolicySet(cfg)
	if err != nil {
		t.Fatalf("NewPolicySet: %v", err)
	}
	return NewPolicyEvaluator(set, sensitive)
}

func TestPolicyEvaluator_Evaluate(t *testing.T) {
	cfg := DefaultGlobalConfig().Policy
	cfg.Rules = []models.PolicyRule{
		{Name: "big-spend", Category: "spend", MinAmount: 1000},
		{Name: "vip", Category: "vip", Metadata: map[string][]string{"from": {"ceo@example.com"}}},
		{Name: "files", Category: "attachment", Kinds: []models.Kind{models.KindFileDrop}},
	}
	pe := newTestEvaluator(t, cfg)

	tests := []struct {
		name       string
		item       *models.WorkItem
		wantReq    bool
		wantReason string
	}{
		{
			name:       "financial keyword in body",
			item:       &models.WorkItem{Kind: models.KindEmail, Body: "please wire $500 to vendor"},
			wantReq:    true,
			wantReason: "financial term: wire",
		},
		{
			name:       "keyword in subject, case insensitive",
			item:       &models.WorkItem{Kind: models.KindEmail, Metadata: models.NewMetadata("subject", "INVOICE attached")},
			wantReq:    true,
			wantReason: "financial term: invoice",
		},
		{
			name:       "urgency after financial",
			item:       &models.WorkItem{Kind: models.KindChatMessage, Body: "this is urgent"},
			wantReq:    true,
			wantReason: "urgency term: urgent",
		},
		{
			name:    "partial word does not match",
			item:    &models.WorkItem{Kind: models.KindEmail, Body: "the wireless router is fine"},
			wantReq: false,
		},
		{
			name:       "amount rule",
			item:       &models.WorkItem{Kind: models.KindEmail, Metadata: models.NewMetadata("amount", "$2,500.00")},
			wantReq:    true,
			wantReason: "spend: amount $2,500.00 exceeds 1000",
		},
		{
			name:    "amount below threshold",
			item:    &models.WorkItem{Kind: models.KindEmail, Metadata: models.NewMetadata("amount", "20")},
			wantReq: false,
		},
		{
			name:       "metadata rule",
			item:       &models.WorkItem{Kind: models.KindEmail, Metadata: models.NewMetadata("from", "CEO@example.com")},
			wantReq:    true,
			wantReason: "vip: from=CEO@example.com",
		},
		{
			name:       "kind-only rule",
			item:       &models.WorkItem{Kind: models.KindFileDrop, Body: "notes"},
			wantReq:    true,
			wantReason: "attachment: file_drop",
		},
		{
			name:    "no match",
			item:    &models.WorkItem{Kind: models.KindEmail, Body: "lunch tomorrow?"},
			wantReq: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, reason := pe.Evaluate(tt.item)
			if req != tt.wantReq {
				t.Fatalf("requiresApproval = %v, want %v (reason %q)", req, tt.wantReq, reason)
			}
			if reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}

func TestPolicyEvaluator_PolicyErrorRequiresApproval(t *testing.T) {
	pe := newTestEvaluator(t, models.PolicyConfig{
		Rules: []models.PolicyRule{{Name: "big-spend", Category: "spend", MinAmount: 100}},
	})
	req, reason := pe.Evaluate(&models.WorkItem{Kind: models.KindEmail, Metadata: models.NewMetadata("amount", "lots")})
	if !req {
		t.Fatal("policy error should require approval")
	}
	if !strings.HasPrefix(reason, "policy error: ") {
		t.Errorf("reason = %q", reason)
	}
}

func TestPolicyError_Unwrap(t *testing.T) {
	inner := errors.New("bad amount")
	var pe error = &PolicyError{Rule: "r", Err: inner}
	if !errors.Is(pe, inner) {
		t.Error("PolicyError should unwrap to its cause")
	}
}

func TestPolicyEvaluator_IsSensitive(t *testing.T) {
	pe := newTestEvaluator(t, models.PolicyConfig{}, "password", "bank account")

	if ok, term := pe.IsSensitive("Here is the Bank Account number"); !ok || term != "bank account" {
		t.Errorf("got %v %q", ok, term)
	}
	if ok, _ := pe.IsSensitive("lunch tomorrow?"); ok {
		t.Error("plain text should not be sensitive")
	}
}

func TestNewPolicySet_RejectsRuleWithoutCategory(t *testing.T) {
	_, err := NewPolicySet(models.PolicyConfig{Rules: []models.PolicyRule{{Name: "x", Keywords: []string{"y"}}}})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestLoadPolicySet_RulesFile(t *testing.T) {
	dir := t.TempDir()
	content := `rules:
  - name: legal
    category: legal
    keywords: [lawsuit, subpoena]
`
	if err := os.WriteFile(filepath.Join(dir, "handbook.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	set, err := LoadPolicySet(dir, models.PolicyConfig{RulesFile: "handbook.yaml"})
	if err != nil {
		t.Fatalf("LoadPolicySet: %v", err)
	}
	if set.Len() != 1 {
		t.Fatalf("rules = %d, want 1", set.Len())
	}
	pe := NewPolicyEvaluator(set, nil)
	req, reason := pe.Evaluate(&models.WorkItem{Kind: models.KindEmail, Body: "we received a subpoena"})
	if !req || reason != "legal term: subpoena" {
		t.Errorf("got %v %q", req, reason)
	}
}

func TestLoadPolicySet_MissingFile(t *testing.T) {
	if _, err := LoadPolicySet(t.TempDir(), models.PolicyConfig{RulesFile: "nope.yaml"}); err == nil {
		t.Fatal("expected error")
	}
}
