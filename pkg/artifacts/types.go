package artifacts

import (
	"strings"

	"github.com/fraudguard/fraud-filter/pkg/forest"
	"github.com/fraudguard/fraud-filter/pkg/markov"
)

// Kind identifies one cached artifact family
type Kind string

const (
	KindConfig     Kind = "config"
	KindModels     Kind = "models"
	KindForest     Kind = "forest"
	KindHeuristics Kind = "heuristics"
	KindWhitelist  Kind = "whitelist"
	KindDisposable Kind = "disposable"
	KindTLD        Kind = "tld"
)

// KV keys. Each artifact value is JSON; integrity metadata lives at
// "<key>:meta".
const (
	KeyConfig      = "config.json"
	KeyForest      = "random_forest.json"
	KeyHeuristics  = "risk-heuristics.json"
	KeyWhitelist   = "whitelist_config.json"
	KeyDisposable  = "disposable_domains.json"
	KeyTLDProfiles = "tld_profiles.json"

	KeyLegit2 = "MM_legit_2gram"
	KeyFraud2 = "MM_fraud_2gram"
	KeyLegit3 = "MM_legit_3gram"
	KeyFraud3 = "MM_fraud_3gram"
)

// AllKeys lists every key the store may hold, in listing order
var AllKeys = []string{
	KeyConfig,
	KeyForest,
	KeyLegit2, KeyFraud2, KeyLegit3, KeyFraud3,
	KeyHeuristics,
	KeyWhitelist,
	KeyDisposable,
	KeyTLDProfiles,
}

// Thresholds are the decision cut points on the final risk score
type Thresholds struct {
	Warn  float64 `json:"warn"`
	Block float64 `json:"block"`
}

// DefaultThresholds returns the shipped decision thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{Warn: 0.30, Block: 0.35}
}

// FeatureFlags enable or disable individual lanes. A disabled lane
// contributes zero risk.
type FeatureFlags struct {
	MXCheck          bool `json:"mxCheck"`
	DisposableCheck  bool `json:"disposableCheck"`
	PatternCheck     bool `json:"patternCheck"`
	NgramAnalysis    bool `json:"ngramAnalysis"`
	TLDRiskProfiling bool `json:"tldRiskProfiling"`
	BenfordLaw       bool `json:"benfordLaw"`
	MarkovChain      bool `json:"markovChain"`
}

// RuntimeConfig is the config.json artifact: thresholds, lane flags and the
// optional Markov calibration block.
type RuntimeConfig struct {
	Version            string               `json:"version"`
	RiskThresholds     Thresholds           `json:"riskThresholds"`
	Ensemble           markov.Thresholds    `json:"ensembleThresholds"`
	OOD                markov.OODThresholds `json:"ood"`
	FeatureFlags       FeatureFlags         `json:"featureFlags"`
	Calibration        *forest.Calibration  `json:"calibration,omitempty"`
	AlertRiskThreshold float64              `json:"alertRiskThreshold,omitempty"`
}

// DefaultRuntimeConfig returns the baked-in fallback used until config.json
// has been seeded in the store.
func DefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		Version:        "builtin-1",
		RiskThresholds: DefaultThresholds(),
		Ensemble:       markov.DefaultThresholds(),
		OOD:            markov.DefaultOODThresholds(),
		FeatureFlags: FeatureFlags{
			MXCheck:          true,
			DisposableCheck:  true,
			PatternCheck:     true,
			NgramAnalysis:    true,
			TLDRiskProfiling: true,
			MarkovChain:      true,
		},
		AlertRiskThreshold: 0.8,
	}
}

// ModelSet is the loaded Markov model snapshot. The 3-gram pair is optional;
// the ensemble degrades to 2-gram-only arbitration when it is absent.
type ModelSet struct {
	Legit2 *markov.Model
	Fraud2 *markov.Model
	Legit3 *markov.Model
	Fraud3 *markov.Model

	Version string
}

// TwoGram returns the required 2-gram pair
func (s *ModelSet) TwoGram() *markov.Pair {
	return &markov.Pair{Legit: s.Legit2, Fraud: s.Fraud2}
}

// ThreeGram returns the 3-gram pair, or nil when either model is missing
func (s *ModelSet) ThreeGram() *markov.Pair {
	if s.Legit3 == nil || s.Fraud3 == nil {
		return nil
	}
	return &markov.Pair{Legit: s.Legit3, Fraud: s.Fraud3}
}

// DisposableDomains is the wire format of the disposable-domain artifact
type DisposableDomains struct {
	Version string   `json:"version,omitempty"`
	Domains []string `json:"domains"`
}

// DisposableSet is the compiled lookup view
type DisposableSet struct {
	Version string
	domains map[string]struct{}
}

// NewDisposableSet lowercases and indexes the domain list
func NewDisposableSet(d DisposableDomains) *DisposableSet {
	set := &DisposableSet{
		Version: d.Version,
		domains: make(map[string]struct{}, len(d.Domains)),
	}
	for _, domain := range d.Domains {
		set.domains[strings.ToLower(strings.TrimSpace(domain))] = struct{}{}
	}
	return set
}

// Contains reports whether the domain is a known disposable provider
func (s *DisposableSet) Contains(domain string) bool {
	if s == nil {
		return false
	}
	_, ok := s.domains[strings.ToLower(domain)]
	return ok
}

// Len returns the number of indexed domains
func (s *DisposableSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.domains)
}

// TLDProfiles maps top-level domains to risk weights in [0,1]
type TLDProfiles struct {
	Version  string             `json:"version,omitempty"`
	Profiles map[string]float64 `json:"profiles"`
}

// Risk returns the profiled risk for a TLD, zero when unprofiled
func (t *TLDProfiles) Risk(tld string) float64 {
	if t == nil {
		return 0
	}
	return t.Profiles[strings.ToLower(tld)]
}
