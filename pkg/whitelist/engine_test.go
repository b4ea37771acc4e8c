package whitelist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

func candidate() Candidate {
	return Candidate{
		Email:         "john.smith@acme.com",
		LocalPart:     "john.smith",
		Domain:        "acme.com",
		PatternFamily: "NAME.NAME",
	}
}

func TestMatchByType(t *testing.T) {
	cases := []struct {
		name  string
		entry Entry
		hits  bool
	}{
		{"exact email", Entry{Type: TypeEmail, Pattern: "john.smith@acme.com", Confidence: 0.3, Enabled: true}, true},
		{"other email", Entry{Type: TypeEmail, Pattern: "jane@acme.com", Confidence: 0.3, Enabled: true}, false},
		{"exact domain", Entry{Type: TypeDomain, Pattern: "acme.com", Confidence: 0.3, Enabled: true}, true},
		{"local regex", Entry{Type: TypeLocalRegex, Pattern: `^[a-z]+\.[a-z]+$`, Confidence: 0.3, Enabled: true}, true},
		{"email regex", Entry{Type: TypeEmailRegex, Pattern: `@acme\.com$`, Confidence: 0.3, Enabled: true}, true},
		{"pattern family", Entry{Type: TypePatternFamily, Pattern: "NAME.NAME", Confidence: 0.3, Enabled: true}, true},
		{"other family", Entry{Type: TypePatternFamily, Pattern: "WORD.NUM", Confidence: 0.3, Enabled: true}, false},
	}

	for _, tc := range cases {
		engine, err := New(Config{Entries: []Entry{tc.entry}})
		require.NoError(t, err, tc.name)

		m := engine.Evaluate(candidate(), now)
		if tc.hits {
			assert.Equal(t, 0.3, m.Reduction, tc.name)
			assert.Len(t, m.Matched, 1, tc.name)
		} else {
			assert.Zero(t, m.Reduction, tc.name)
			assert.Empty(t, m.Matched, tc.name)
		}
	}
}

func TestHighestConfidenceWins(t *testing.T) {
	engine, err := New(Config{Entries: []Entry{
		{Type: TypeDomain, Pattern: "acme.com", Confidence: 0.15, Enabled: true},
		{Type: TypeEmail, Pattern: "john.smith@acme.com", Confidence: 0.35, Enabled: true},
	}})
	require.NoError(t, err)

	m := engine.Evaluate(candidate(), now)
	assert.Equal(t, 0.35, m.Reduction)
	assert.Len(t, m.Matched, 2)
}

func TestReductionCapped(t *testing.T) {
	engine, err := New(Config{
		Settings: Settings{MaxReduction: 0.25},
		Entries: []Entry{
			{Type: TypeDomain, Pattern: "acme.com", Confidence: 0.9, Enabled: true},
		},
	})
	require.NoError(t, err)

	m := engine.Evaluate(candidate(), now)
	assert.Equal(t, 0.25, m.Reduction)
}

func TestDefaultCap(t *testing.T) {
	engine, err := New(Config{Entries: []Entry{
		{Type: TypeDomain, Pattern: "acme.com", Confidence: 1.0, Enabled: true},
	}})
	require.NoError(t, err)

	assert.Equal(t, 0.4, engine.MaxReduction())
	assert.Equal(t, 0.4, engine.Evaluate(candidate(), now).Reduction)
}

func TestDisabledAndExpiredIgnored(t *testing.T) {
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	engine, err := New(Config{Entries: []Entry{
		{Type: TypeDomain, Pattern: "acme.com", Confidence: 0.3, Enabled: false},
		{Type: TypeDomain, Pattern: "acme.com", Confidence: 0.2, Enabled: true, ExpiresAt: &past},
		{Type: TypeDomain, Pattern: "acme.com", Confidence: 0.1, Enabled: true, ExpiresAt: &future},
	}})
	require.NoError(t, err)

	m := engine.Evaluate(candidate(), now)
	assert.Equal(t, 0.1, m.Reduction)
	assert.Len(t, m.Matched, 1)
}

func TestRejectsBadConfig(t *testing.T) {
	_, err := New(Config{Entries: []Entry{
		{Type: TypeLocalRegex, Pattern: "([", Confidence: 0.3, Enabled: true},
	}})
	assert.Error(t, err)

	_, err = New(Config{Entries: []Entry{
		{Type: "unknown", Pattern: "x", Confidence: 0.3, Enabled: true},
	}})
	assert.Error(t, err)

	_, err = New(Config{Entries: []Entry{
		{Type: TypeEmail, Pattern: "a@b.c", Confidence: 1.5, Enabled: true},
	}})
	assert.Error(t, err)
}
