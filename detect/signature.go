package detect

import (
	"fmt"
	"os"

	"github.com/dlclark/regexp2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"bastion/core"
)

// SignatureRule is one pattern in the maintained signature table. Patterns
// are case-insensitive and written to tolerate common obfuscations such as
// percent-encoded quotes.
type SignatureRule struct {
	Name     string          `yaml:"name"`
	Category core.ThreatType `yaml:"category"`
	Pattern  string          `yaml:"pattern"`
}

// SignatureMatch is one rule hit against a payload.
type SignatureMatch struct {
	Rule     string
	Category core.ThreatType
}

type compiledRule struct {
	rule SignatureRule
	re   *regexp2.Regexp
}

// SignatureSet runs an ordered set of pattern rules against event payloads.
// The first match of a category is sufficient; individual patterns are not
// scored. Evaluation uses regexp2 with a match timeout so an
// operator-supplied pattern with catastrophic backtracking cannot stall the
// detection path.
type SignatureSet struct {
	rules  []compiledRule
	logger *zap.SugaredLogger
}

// NewSignatureSet compiles the rules in order. A rule that fails to compile
// or declares an unknown category rejects the whole set: a partially loaded
// signature table would silently weaken detection.
func NewSignatureSet(rules []SignatureRule, logger *zap.SugaredLogger) (*SignatureSet, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, rule := range rules {
		if rule.Name == "" {
			return nil, fmt.Errorf("%w: signature rule without a name", core.ErrValidation)
		}
		if !rule.Category.IsValid() {
			return nil, fmt.Errorf("%w: signature %q has unknown category %q", core.ErrValidation, rule.Name, rule.Category)
		}
		re, err := regexp2.Compile(rule.Pattern, regexp2.IgnoreCase)
		if err != nil {
			return nil, fmt.Errorf("failed to compile signature %q: %w", rule.Name, err)
		}
		re.MatchTimeout = core.SignatureMatchTimeout
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &SignatureSet{rules: compiled, logger: logger}, nil
}

// Match evaluates the payload against all rules in order and returns at
// most one match per category. A timed-out rule is logged and treated as a
// non-match; signature evaluation never errors.
func (s *SignatureSet) Match(payload string) []SignatureMatch {
	if payload == "" {
		return nil
	}

	var matches []SignatureMatch
	seen := make(map[core.ThreatType]bool)
	for _, c := range s.rules {
		if seen[c.rule.Category] {
			continue
		}
		ok, err := c.re.MatchString(payload)
		if err != nil {
			s.logger.Warnw("Signature evaluation timed out, skipping rule",
				"rule", c.rule.Name,
				"error", err)
			continue
		}
		if ok {
			matches = append(matches, SignatureMatch{Rule: c.rule.Name, Category: c.rule.Category})
			seen[c.rule.Category] = true
		}
	}
	return matches
}

// Rules returns the configured rules in evaluation order.
func (s *SignatureSet) Rules() []SignatureRule {
	out := make([]SignatureRule, len(s.rules))
	for i, c := range s.rules {
		out[i] = c.rule
	}
	return out
}

// signatureFile is the YAML shape of an external signature table.
type signatureFile struct {
	Rules []SignatureRule `yaml:"rules"`
}

// LoadSignatureRules reads a signature table from a YAML file, so new
// signatures ship without touching the detector.
func LoadSignatureRules(path string) ([]SignatureRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read signature file %s: %w", path, err)
	}
	var f signatureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse signature file %s: %w", path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("%w: signature file %s contains no rules", core.ErrValidation, path)
	}
	return f.Rules, nil
}

// DefaultSignatureRules is the built-in signature table covering common SQL
// injection and cross-site scripting payload shapes.
func DefaultSignatureRules() []SignatureRule {
	return []SignatureRule{
		// SQL injection
		{Name: "sqli_quote_or_equals", Category: core.ThreatSQLInjection, Pattern: `('|%27)\s*or\s*('|%27)?\d+=\d+`},
		{Name: "sqli_comment_terminator", Category: core.ThreatSQLInjection, Pattern: `('|%27)\s*--`},
		{Name: "sqli_union_select", Category: core.ThreatSQLInjection, Pattern: `union(\s+all)?\s+select`},
		{Name: "sqli_select_from", Category: core.ThreatSQLInjection, Pattern: `select\s+.*\s+from`},
		{Name: "sqli_insert_into", Category: core.ThreatSQLInjection, Pattern: `insert\s+into`},
		{Name: "sqli_drop_table", Category: core.ThreatSQLInjection, Pattern: `drop\s+table`},
		{Name: "sqli_update_set", Category: core.ThreatSQLInjection, Pattern: `update\s+.*\s+set`},
		{Name: "sqli_delete_from", Category: core.ThreatSQLInjection, Pattern: `delete\s+from`},
		{Name: "sqli_stacked_shutdown", Category: core.ThreatSQLInjection, Pattern: `;\s*shutdown`},
		{Name: "sqli_information_schema", Category: core.ThreatSQLInjection, Pattern: `information_schema`},

		// Cross-site scripting
		{Name: "xss_script_tag", Category: core.ThreatXSS, Pattern: `<script.*?>.*?</script>`},
		{Name: "xss_onerror_handler", Category: core.ThreatXSS, Pattern: `onerror\s*=\s*['"]`},
		{Name: "xss_onload_handler", Category: core.ThreatXSS, Pattern: `onload\s*=\s*['"]`},
		{Name: "xss_img_src", Category: core.ThreatXSS, Pattern: `<img\s+.*?src=['"][^'"]*['"].*?>`},
		{Name: "xss_iframe", Category: core.ThreatXSS, Pattern: `<iframe.*?>.*?</iframe>`},
		{Name: "xss_javascript_uri", Category: core.ThreatXSS, Pattern: `javascript:`},
		{Name: "xss_document_cookie", Category: core.ThreatXSS, Pattern: `document\.cookie`},
		{Name: "xss_svg_handler", Category: core.ThreatXSS, Pattern: `<svg.*?on\w+=`},
	}
}
