package core

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/valter-silva-au/ai-employee/pkg/models"
	"gopkg.in/yaml.v3"
)

// Built-in rule categories.
const (
	CategoryFinancial = "financial"
	CategoryUrgency   = "urgency"
)

// keywordFields are the metadata headers searched by keyword rules, in
// addition to the body.
var keywordFields = []string{models.MetaSubject, "filename", "description"}

// PolicyError reports a rule that could not be evaluated. Evaluate treats it
// as requiring approval.
type PolicyError struct {
	Rule string
	Err  error
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("rule %s: %v", e.Rule, e.Err)
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}

type compiledRule struct {
	rule     models.PolicyRule
	patterns []*regexp.Regexp
}

// PolicySet is an immutable, ordered rule table. Build it once at startup
// with NewPolicySet.
type PolicySet struct {
	rules []compiledRule
}

// NewPolicySet compiles the built-in financial and urgency keyword rules
// followed by the configured category rules. Rules are evaluated in that
// order.
func NewPolicySet(cfg models.PolicyConfig, extra ...models.PolicyRule) (*PolicySet, error) {
	var rules []models.PolicyRule
	if len(cfg.FinancialTerms) > 0 {
		rules = append(rules, models.PolicyRule{Name: "financial-terms", Category: CategoryFinancial, Keywords: cfg.FinancialTerms})
	}
	if len(cfg.UrgencyTerms) > 0 {
		rules = append(rules, models.PolicyRule{Name: "urgency-terms", Category: CategoryUrgency, Keywords: cfg.UrgencyTerms})
	}
	rules = append(rules, cfg.Rules...)
	rules = append(rules, extra...)

	set := &PolicySet{rules: make([]compiledRule, 0, len(rules))}
	for _, r := range rules {
		if r.Category == "" {
			return nil, fmt.Errorf("compiling policy rule %q: category is empty", r.Name)
		}
		cr := compiledRule{rule: r}
		for _, kw := range r.Keywords {
			kw = strings.TrimSpace(kw)
			if kw == "" {
				continue
			}
			re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(kw) + `\b`)
			if err != nil {
				return nil, fmt.Errorf("compiling policy rule %q keyword %q: %w", r.Name, kw, err)
			}
			cr.patterns = append(cr.patterns, re)
		}
		set.rules = append(set.rules, cr)
	}
	return set, nil
}

// LoadPolicySet builds the PolicySet from cfg, appending the rules held in
// cfg.RulesFile when it is set. A relative RulesFile is resolved against
// basePath.
func LoadPolicySet(basePath string, cfg models.PolicyConfig) (*PolicySet, error) {
	if cfg.RulesFile == "" {
		return NewPolicySet(cfg)
	}

	path := cfg.RulesFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(basePath, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading policy rules file: %w", err)
	}

	var file struct {
		Rules []models.PolicyRule `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing policy rules file %s: %w", path, err)
	}
	for i, r := range file.Rules {
		if err := validateRule(r); err != nil {
			return nil, fmt.Errorf("policy rules file %s: rules[%d]: %w", path, i, err)
		}
	}
	return NewPolicySet(cfg, file.Rules...)
}

// Len returns the number of rules in the set.
func (s *PolicySet) Len() int {
	return len(s.rules)
}

// PolicyEvaluator decides whether a work item needs human approval.
type PolicyEvaluator interface {
	// Evaluate returns whether approval is required and the reason. It is
	// deterministic for a given rule set.
	Evaluate(item *models.WorkItem) (requiresApproval bool, reason string)
	// IsSensitive reports whether text contains a sensitive response term,
	// and which one.
	IsSensitive(text string) (bool, string)
}

type policyEvaluator struct {
	set       *PolicySet
	sensitive []*regexp.Regexp
	terms     []string
}

// NewPolicyEvaluator creates a PolicyEvaluator over set. sensitiveTerms is
// the response gating term list.
func NewPolicyEvaluator(set *PolicySet, sensitiveTerms []string) PolicyEvaluator {
	if set == nil {
		set = &PolicySet{}
	}
	pe := &policyEvaluator{set: set}
	for _, term := range sensitiveTerms {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		pe.sensitive = append(pe.sensitive, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(term)+`\b`))
		pe.terms = append(pe.terms, term)
	}
	return pe
}

func (pe *policyEvaluator) Evaluate(item *models.WorkItem) (bool, string) {
	if item == nil {
		return false, ""
	}
	text := searchableText(item)
	for _, cr := range pe.set.rules {
		matched, reason, err := cr.match(item, text)
		if err != nil {
			return true, "policy error: " + err.Error()
		}
		if matched {
			return true, reason
		}
	}
	return false, ""
}

func (pe *policyEvaluator) IsSensitive(text string) (bool, string) {
	for i, re := range pe.sensitive {
		if re.MatchString(text) {
			return true, pe.terms[i]
		}
	}
	return false, ""
}

// match reports whether every condition the rule sets holds for item.
func (cr compiledRule) match(item *models.WorkItem, text string) (bool, string, error) {
	r := cr.rule
	if len(r.Kinds) > 0 && !slices.Contains(r.Kinds, item.Kind) {
		return false, "", nil
	}

	var reason string
	for _, key := range slices.Sorted(maps.Keys(r.Metadata)) {
		allowed := r.Metadata[key]
		value := item.Metadata.Get(key)
		if !slices.ContainsFunc(allowed, func(a string) bool { return strings.EqualFold(a, value) }) {
			return false, "", nil
		}
		if reason == "" {
			reason = fmt.Sprintf("%s: %s=%s", r.Category, key, value)
		}
	}

	if r.MinAmount > 0 {
		raw := item.Metadata.Get(models.MetaAmount)
		if raw == "" {
			return false, "", nil
		}
		amount, err := parseAmount(raw)
		if err != nil {
			return false, "", &PolicyError{Rule: r.Name, Err: err}
		}
		if amount < r.MinAmount {
			return false, "", nil
		}
		reason = fmt.Sprintf("%s: amount %s exceeds %s", r.Category, raw, strconv.FormatFloat(r.MinAmount, 'f', -1, 64))
	}

	if len(cr.patterns) > 0 {
		kw := ""
		for _, re := range cr.patterns {
			if m := re.FindString(text); m != "" {
				kw = strings.ToLower(m)
				break
			}
		}
		if kw == "" {
			return false, "", nil
		}
		reason = fmt.Sprintf("%s term: %s", r.Category, kw)
	}

	if reason == "" {
		// Only a kind filter: every item of those kinds matches.
		if len(r.Kinds) == 0 {
			return false, "", nil
		}
		reason = fmt.Sprintf("%s: %s", r.Category, item.Kind)
	}
	return true, reason, nil
}

func searchableText(item *models.WorkItem) string {
	var sb strings.Builder
	for _, key := range keywordFields {
		if v := item.Metadata.Get(key); v != "" {
			sb.WriteString(v)
			sb.WriteByte('\n')
		}
	}
	sb.WriteString(item.Body)
	return sb.String()
}

// parseAmount accepts plain numbers and common currency formatting such as
// "$5,000.00".
func parseAmount(raw string) (float64, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '$', '€', '£', ',', ' ':
			return -1
		}
		return r
	}, raw)
	amount, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q", raw)
	}
	return amount, nil
}
