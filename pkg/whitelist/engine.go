package whitelist

import (
	"fmt"
	"regexp"
	"time"
)

// Entry types
const (
	TypeEmail         = "email"         // exact full address
	TypeDomain        = "domain"        // exact domain
	TypeLocalRegex    = "local_regex"   // regex over the local part
	TypeEmailRegex    = "email_regex"   // regex over the full address
	TypePatternFamily = "pattern_family" // normalized family token, e.g. NAME.NAME.YEAR
)

// defaultMaxReduction caps how much whitelisting can subtract from risk
const defaultMaxReduction = 0.4

// Entry is one known-legitimate pattern
type Entry struct {
	Type       string     `json:"type"`
	Pattern    string     `json:"pattern"`
	Confidence float64    `json:"confidence"`
	Enabled    bool       `json:"enabled"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

// Settings holds whitelist-wide limits
type Settings struct {
	MaxReduction float64 `json:"maxReduction"`
}

// Config is the whitelist artifact
type Config struct {
	Version  string   `json:"version,omitempty"`
	Settings Settings `json:"globalSettings"`
	Entries  []Entry  `json:"entries"`
}

// Candidate carries the already-derived views of an address that entries
// match against.
type Candidate struct {
	Email         string
	LocalPart     string
	Domain        string
	PatternFamily string
}

// Match is the whitelist verdict
type Match struct {
	Reduction float64
	Matched   []Entry
}

type compiledEntry struct {
	Entry
	re *regexp.Regexp
}

// Engine matches candidates against compiled whitelist entries
type Engine struct {
	entries      []compiledEntry
	maxReduction float64
}

// New compiles a whitelist config. Regex entries that fail to compile
// reject the whole artifact so a broken upload never half-applies.
func New(cfg Config) (*Engine, error) {
	maxReduction := cfg.Settings.MaxReduction
	if maxReduction <= 0 || maxReduction > 1 {
		maxReduction = defaultMaxReduction
	}

	entries := make([]compiledEntry, 0, len(cfg.Entries))
	for i, entry := range cfg.Entries {
		if entry.Confidence < 0 || entry.Confidence > 1 {
			return nil, fmt.Errorf("entry %d: confidence %.3f out of [0,1]", i, entry.Confidence)
		}

		ce := compiledEntry{Entry: entry}
		switch entry.Type {
		case TypeEmail, TypeDomain, TypePatternFamily:
		case TypeLocalRegex, TypeEmailRegex:
			re, err := regexp.Compile(entry.Pattern)
			if err != nil {
				return nil, fmt.Errorf("entry %d: bad regex %q: %w", i, entry.Pattern, err)
			}
			ce.re = re
		default:
			return nil, fmt.Errorf("entry %d: unknown type %q", i, entry.Type)
		}
		entries = append(entries, ce)
	}

	return &Engine{entries: entries, maxReduction: maxReduction}, nil
}

// MaxReduction returns the configured reduction cap
func (e *Engine) MaxReduction() float64 {
	return e.maxReduction
}

// Evaluate returns the bounded risk reduction for a candidate. The
// reduction is the highest matching confidence, capped by maxReduction.
// Disabled and expired entries are ignored.
func (e *Engine) Evaluate(c Candidate, now time.Time) Match {
	var m Match
	best := 0.0

	for _, entry := range e.entries {
		if !entry.Enabled {
			continue
		}
		if entry.ExpiresAt != nil && now.After(*entry.ExpiresAt) {
			continue
		}
		if !entry.matches(c) {
			continue
		}

		m.Matched = append(m.Matched, entry.Entry)
		if entry.Confidence > best {
			best = entry.Confidence
		}
	}

	if best > e.maxReduction {
		best = e.maxReduction
	}
	m.Reduction = best
	return m
}

func (ce compiledEntry) matches(c Candidate) bool {
	switch ce.Type {
	case TypeEmail:
		return c.Email == ce.Pattern
	case TypeDomain:
		return c.Domain == ce.Pattern
	case TypeLocalRegex:
		return ce.re.MatchString(c.LocalPart)
	case TypeEmailRegex:
		return ce.re.MatchString(c.Email)
	case TypePatternFamily:
		return c.PatternFamily != "" && c.PatternFamily == ce.Pattern
	}
	return false
}
