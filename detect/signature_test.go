package detect

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bastion/core"
)

func defaultSet(t *testing.T) *SignatureSet {
	t.Helper()
	set, err := NewSignatureSet(DefaultSignatureRules(), zap.NewNop().Sugar())
	require.NoError(t, err)
	return set
}

func TestSignatureSet_SQLInjection(t *testing.T) {
	set := defaultSet(t)

	payloads := []string{
		`' OR 1=1 --`,
		`%27 or %271=1`,
		`UNION ALL SELECT password FROM users`,
		`union select 1,2,3`,
		`select name from accounts`,
		`INSERT INTO logs VALUES ('x')`,
		`; DROP TABLE users`,
		`update users set admin=1`,
		`delete from sessions`,
		`; shutdown`,
		`peek at information_schema.tables`,
	}

	for _, p := range payloads {
		matches := set.Match(p)
		require.NotEmpty(t, matches, "payload %q should match", p)
		assert.Equal(t, core.ThreatSQLInjection, matches[0].Category)
	}
}

func TestSignatureSet_XSS(t *testing.T) {
	set := defaultSet(t)

	payloads := []string{
		`<script>alert(1)</script>`,
		`<SCRIPT>document.location='http://evil'</SCRIPT>`,
		`<img src="x" onerror="alert(1)">`,
		`<body onload="alert(1)">`,
		`<iframe src="http://evil"></iframe>`,
		`javascript:alert(document.domain)`,
		`steal document.cookie now`,
		`<svg onload=alert(1)>`,
	}

	for _, p := range payloads {
		matches := set.Match(p)
		require.NotEmpty(t, matches, "payload %q should match", p)
		found := false
		for _, m := range matches {
			if m.Category == core.ThreatXSS {
				found = true
			}
		}
		assert.True(t, found, "payload %q should be classified as xss", p)
	}
}

func TestSignatureSet_BenignPayload(t *testing.T) {
	set := defaultSet(t)

	for _, p := range []string{"hello world", "ordinary login request", "", "SELECTED ITEMS"} {
		assert.Empty(t, set.Match(p), "payload %q must not match", p)
	}
}

func TestSignatureSet_OneMatchPerCategory(t *testing.T) {
	set := defaultSet(t)

	// Hits several SQLi rules but only the first one is reported
	matches := set.Match(`' OR 1=1 -- union select * from information_schema`)
	sqli := 0
	for _, m := range matches {
		if m.Category == core.ThreatSQLInjection {
			sqli++
		}
	}
	assert.Equal(t, 1, sqli, "first match of a category is sufficient")
}

func TestSignatureSet_MultipleCategories(t *testing.T) {
	set := defaultSet(t)

	matches := set.Match(`' OR 1=1 -- <script>alert(1)</script>`)
	categories := make(map[core.ThreatType]bool)
	for _, m := range matches {
		categories[m.Category] = true
	}
	assert.True(t, categories[core.ThreatSQLInjection])
	assert.True(t, categories[core.ThreatXSS])
}

func TestNewSignatureSet_RejectsBadRules(t *testing.T) {
	logger := zap.NewNop().Sugar()

	_, err := NewSignatureSet([]SignatureRule{{Name: "", Category: core.ThreatXSS, Pattern: "x"}}, logger)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = NewSignatureSet([]SignatureRule{{Name: "r", Category: "malformed", Pattern: "x"}}, logger)
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = NewSignatureSet([]SignatureRule{{Name: "r", Category: core.ThreatXSS, Pattern: "("}}, logger)
	assert.Error(t, err)
}

func TestLoadSignatureRules(t *testing.T) {
	rules, err := LoadSignatureRules("testdata/signatures.yaml")
	require.NoError(t, err)
	require.Len(t, rules, 2)
	assert.Equal(t, "custom_sqli", rules[0].Name)
	assert.Equal(t, core.ThreatSQLInjection, rules[0].Category)

	set, err := NewSignatureSet(rules, zap.NewNop().Sugar())
	require.NoError(t, err)
	assert.NotEmpty(t, set.Match("sleep(10)--"))

	_, err = LoadSignatureRules("testdata/missing.yaml")
	assert.Error(t, err)
}
