package heuristics

import (
	"fmt"
	"strconv"
	"strings"
)

// Rule is one config-driven risk bump. Signal names a derived signal
// published by the pipeline, condition is a comparison like ">=0.7" (empty
// means any non-zero value), bump is added to the heuristic lane when the
// rule fires.
type Rule struct {
	Signal    string  `json:"signal"`
	Condition string  `json:"condition,omitempty"`
	Bump      float64 `json:"bump"`
	Reason    string  `json:"reason"`
}

// Config is the risk-heuristics artifact
type Config struct {
	Version string `json:"version,omitempty"`
	Rules   []Rule `json:"rules"`
}

// Trigger records one fired rule
type Trigger struct {
	Signal string  `json:"signal"`
	Reason string  `json:"reason"`
	Bump   float64 `json:"bump"`
}

// Outcome is the heuristic lane result
type Outcome struct {
	Total     float64
	Triggered []Trigger
}

type compiledRule struct {
	Rule
	op        string
	threshold float64
}

// Engine evaluates rules in artifact order. Each signal contributes at most
// once regardless of how many rules reference it.
type Engine struct {
	rules []compiledRule
}

// New compiles a heuristics config. Rules with malformed conditions or
// out-of-range bumps are rejected so a bad artifact cannot half-load.
func New(cfg Config) (*Engine, error) {
	rules := make([]compiledRule, 0, len(cfg.Rules))
	for i, r := range cfg.Rules {
		if r.Signal == "" {
			return nil, fmt.Errorf("rule %d: empty signal", i)
		}
		if r.Bump < 0 || r.Bump > 1 {
			return nil, fmt.Errorf("rule %d (%s): bump %.3f out of [0,1]", i, r.Signal, r.Bump)
		}

		cr := compiledRule{Rule: r}
		if r.Condition != "" {
			op, threshold, err := parseCondition(r.Condition)
			if err != nil {
				return nil, fmt.Errorf("rule %d (%s): %w", i, r.Signal, err)
			}
			cr.op, cr.threshold = op, threshold
		}
		rules = append(rules, cr)
	}
	return &Engine{rules: rules}, nil
}

// Evaluate runs all rules against the signal map. Signals absent from the
// map never fire; unknown is not the same as zero. The total is capped at 1.
func (e *Engine) Evaluate(signals map[string]float64) Outcome {
	var out Outcome
	fired := make(map[string]bool)

	for _, rule := range e.rules {
		if fired[rule.Signal] {
			continue
		}
		value, ok := signals[rule.Signal]
		if !ok {
			continue
		}
		if !rule.matches(value) {
			continue
		}

		fired[rule.Signal] = true
		out.Total += rule.Bump
		out.Triggered = append(out.Triggered, Trigger{
			Signal: rule.Signal,
			Reason: rule.Reason,
			Bump:   rule.Bump,
		})
	}

	if out.Total > 1 {
		out.Total = 1
	}
	return out
}

func (r compiledRule) matches(value float64) bool {
	if r.op == "" {
		return value != 0
	}
	switch r.op {
	case ">=":
		return value >= r.threshold
	case "<=":
		return value <= r.threshold
	case ">":
		return value > r.threshold
	case "<":
		return value < r.threshold
	case "==":
		return value == r.threshold
	case "!=":
		return value != r.threshold
	}
	return false
}

// parseCondition splits an operator prefix from a numeric threshold
func parseCondition(cond string) (string, float64, error) {
	cond = strings.TrimSpace(cond)
	for _, op := range []string{">=", "<=", "==", "!=", ">", "<"} {
		if strings.HasPrefix(cond, op) {
			threshold, err := strconv.ParseFloat(strings.TrimSpace(cond[len(op):]), 64)
			if err != nil {
				return "", 0, fmt.Errorf("bad threshold in condition %q", cond)
			}
			return op, threshold, nil
		}
	}
	return "", 0, fmt.Errorf("unknown operator in condition %q", cond)
}

// DefaultConfig mirrors the shipped risk-heuristics artifact and serves as
// the fallback when the KV store has never been seeded.
func DefaultConfig() Config {
	return Config{
		Version: "builtin-1",
		Rules: []Rule{
			{Signal: "tld_risk", Condition: ">=0.5", Bump: 0.10, Reason: "tld_high_risk"},
			{Signal: "domain_disposable", Condition: "==1", Bump: 0.20, Reason: "domain_disposable"},
			{Signal: "sequential_confidence", Condition: ">=0.7", Bump: 0.08, Reason: "sequential_pattern"},
			{Signal: "dated_risk", Condition: ">=0.7", Bump: 0.08, Reason: "dated_pattern"},
			{Signal: "plus_abuse", Condition: "==1", Bump: 0.05, Reason: "plus_abuse"},
			{Signal: "bot_score", Condition: ">=30", Bump: 0.15, Reason: "bot_score_high"},
			{Signal: "digit_ratio", Condition: ">=0.5", Bump: 0.05, Reason: "digit_heavy"},
		},
	}
}
