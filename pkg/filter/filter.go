package filter

import (
	"context"
	"log"
	"math"
	"time"

	"github.com/fraudguard/fraud-filter/pkg/artifacts"
	"github.com/fraudguard/fraud-filter/pkg/dns"
	"github.com/fraudguard/fraud-filter/pkg/email"
	"github.com/fraudguard/fraud-filter/pkg/features"
	"github.com/fraudguard/fraud-filter/pkg/forest"
	"github.com/fraudguard/fraud-filter/pkg/heuristics"
	"github.com/fraudguard/fraud-filter/pkg/markov"
	"github.com/fraudguard/fraud-filter/pkg/metrics"
	"github.com/fraudguard/fraud-filter/pkg/recorder"
	"github.com/fraudguard/fraud-filter/pkg/whitelist"
)

// Derived signal names the heuristic artifact references alongside the raw
// feature schema.
const (
	sigSequentialConfidence = "sequential_confidence"
	sigDatedRisk            = "dated_risk"
	sigPlusAbuse            = "plus_abuse"
	sigDomainDisposable     = "domain_disposable"
	sigDegradedModel        = "degraded_model"
)

// ArtifactSource is the snapshot view the pipeline reads. The artifact
// cache implements it; tests substitute fixed snapshots.
type ArtifactSource interface {
	Config(ctx context.Context) (*artifacts.RuntimeConfig, error)
	Models(ctx context.Context) (*artifacts.ModelSet, error)
	Forest(ctx context.Context) (*forest.Forest, error)
	Heuristics(ctx context.Context) (*heuristics.Engine, error)
	Whitelist(ctx context.Context) (*whitelist.Engine, error)
	Disposable(ctx context.Context) (*artifacts.DisposableSet, error)
	TLDProfiles(ctx context.Context) (*artifacts.TLDProfiles, error)
}

// MXResolver answers MX questions; lookups that fail null the MX features
type MXResolver interface {
	Resolve(ctx context.Context, domain string) (*dns.Result, error)
}

// FraudFilter runs the evaluation pipeline over one artifact snapshot per
// request.
type FraudFilter struct {
	source   ArtifactSource
	resolver MXResolver
	recorder *recorder.Recorder
	alerter  *recorder.Alerter
	metrics  *metrics.Metrics
	now      func() time.Time
}

// Option configures optional filter dependencies
type Option func(*FraudFilter)

// WithResolver wires MX resolution
func WithResolver(r MXResolver) Option {
	return func(f *FraudFilter) { f.resolver = r }
}

// WithRecorder wires asynchronous persistence
func WithRecorder(r *recorder.Recorder) Option {
	return func(f *FraudFilter) { f.recorder = r }
}

// WithAlerter wires webhook alerting
func WithAlerter(a *recorder.Alerter) Option {
	return func(f *FraudFilter) { f.alerter = a }
}

// WithMetrics wires Prometheus instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(f *FraudFilter) { f.metrics = m }
}

// New creates a filter over an artifact source
func New(source ArtifactSource, opts ...Option) *FraudFilter {
	f := &FraudFilter{
		source: source,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Evaluate runs the full pipeline. It never fails: malformed input blocks
// with format_invalid, unavailable models apply the degraded floor, and all
// other errors degrade the affected lane only.
func (f *FraudFilter) Evaluate(ctx context.Context, req Request) *Result {
	start := f.now()
	cfg := f.runtimeConfig(ctx)
	th := cfg.RiskThresholds

	addr, err := email.Parse(req.Email)
	if err != nil {
		res := &Result{
			Valid:       false,
			RiskScore:   1.0,
			Decision:    DecisionBlock,
			BlockReason: ReasonFormatInvalid,
			Signals:     map[string]float64{},
			Fingerprint: fingerprint(req.Context),
		}
		f.finish(res, req, nil, nil, cfg, start)
		return res
	}

	signals := features.Extract(addr.LocalPart)
	f.addPatternSignals(signals, addr, cfg.FeatureFlags)
	disposable := f.addDomainSignals(ctx, signals, addr, cfg.FeatureFlags)
	f.addContextSignals(signals, req.Context)
	f.addMXSignals(ctx, signals, addr, cfg.FeatureFlags)

	res := &Result{
		Valid:         true,
		Signals:       signals,
		Fingerprint:   fingerprint(req.Context),
		PatternFamily: email.PatternFamily(addr.Canonical),
	}

	// Markov lanes. A missing or invalid model snapshot applies the
	// degraded floor rather than silently allowing the signup.
	var ensembleRes *markov.Result
	markovWanted := cfg.FeatureFlags.MarkovChain || cfg.FeatureFlags.NgramAnalysis
	if markovWanted {
		set, err := f.source.Models(ctx)
		if err != nil || set == nil || set.Legit2 == nil || set.Fraud2 == nil {
			if err != nil {
				log.Printf("filter: markov models unavailable: %v", err)
			}
			return f.degraded(res, req, addr, cfg, start)
		}

		ensemble := markov.NewEnsemble(set.TwoGram(), set.ThreeGram(), cfg.Ensemble, cfg.OOD)
		r := ensemble.Evaluate(addr.LocalPart)
		ensembleRes = &r
		res.EnsembleReason = r.Reason
		res.OODZone = r.OODZone
		res.Metadata.ModelVersion = set.Version
		addEntropySignals(signals, &r)
	}

	if cfg.FeatureFlags.MarkovChain {
		res.Lanes.Classification, res.Metadata.Calibration = classificationLane(ensembleRes, cfg.Calibration)
	}
	if cfg.FeatureFlags.NgramAnalysis && ensembleRes != nil {
		res.Lanes.Abnormality = shortLocalGuardrail(ensembleRes.AbnormalityRisk, len(addr.LocalPart))
		signals.Set(features.AbnormalityRisk, res.Lanes.Abnormality)
	}

	// Forest lane, active whenever the artifact is present.
	if fr, err := f.source.Forest(ctx); err == nil && fr != nil {
		score := fr.Evaluate(signals)
		if calibrated, ok := fr.Calibrated(score); ok {
			score = calibrated
		}
		res.Lanes.Forest = clamp01(score)
	} else if err != nil {
		log.Printf("filter: forest unavailable: %v", err)
	}

	// Heuristic lane.
	if engine, err := f.source.Heuristics(ctx); err == nil {
		outcome := engine.Evaluate(signals)
		res.Lanes.Heuristic = outcome.Total
	} else {
		log.Printf("filter: heuristics unavailable: %v", err)
	}

	res.Lanes.Domain = domainLane(signals.Get(features.TLDRisk), disposable)

	// Whitelist reduction.
	if engine, err := f.source.Whitelist(ctx); err == nil {
		match := engine.Evaluate(whitelist.Candidate{
			Email:         addr.Email,
			LocalPart:     addr.LocalPart,
			Domain:        addr.Domain,
			PatternFamily: res.PatternFamily,
		}, f.now())
		res.Lanes.WhitelistReduction = match.Reduction
	} else {
		log.Printf("filter: whitelist unavailable: %v", err)
	}

	res.RiskScore = combine(&res.Lanes)
	res.Decision = decide(res.RiskScore, th)
	if res.Decision != DecisionAllow {
		res.BlockReason = blockReason(res.Lanes, disposable, th)
	}

	f.finish(res, req, addr, ensembleRes, cfg, start)
	return res
}

// runtimeConfig loads config.json, falling back to defaults so evaluation
// never stalls on the KV store.
func (f *FraudFilter) runtimeConfig(ctx context.Context) *artifacts.RuntimeConfig {
	cfg, err := f.source.Config(ctx)
	if err != nil || cfg == nil {
		if err != nil {
			log.Printf("filter: config artifact unavailable, using defaults: %v", err)
		}
		return artifacts.DefaultRuntimeConfig()
	}
	if cfg.RiskThresholds == (artifacts.Thresholds{}) {
		cfg.RiskThresholds = artifacts.DefaultThresholds()
	}
	return cfg
}

// degraded applies the degraded-model floor and emits the alert
func (f *FraudFilter) degraded(res *Result, req Request, addr *email.Address, cfg *artifacts.RuntimeConfig, start time.Time) *Result {
	th := cfg.RiskThresholds
	res.Degraded = true
	res.RiskScore = degradedFloor(th)
	res.Decision = decide(res.RiskScore, th)
	res.BlockReason = ReasonDegradedModel
	res.Signals[sigDegradedModel] = 1

	if f.metrics != nil {
		f.metrics.DegradedModel.Inc()
	}
	if f.alerter.Enabled() {
		f.alerter.FireAsync(recorder.Alert{
			Kind:        recorder.AlertDegradedModel,
			Email:       addr.Email,
			Domain:      addr.Domain,
			Fingerprint: fingerprintHash(res.Fingerprint),
			Decision:    res.Decision,
			RiskScore:   res.RiskScore,
			Reason:      ReasonDegradedModel,
		})
	}

	f.finish(res, req, addr, nil, cfg, start)
	return res
}

// finish stamps latency, updates metrics, persists and alerts. It reuses the
// config snapshot the evaluation started with.
func (f *FraudFilter) finish(res *Result, req Request, addr *email.Address, ens *markov.Result, cfg *artifacts.RuntimeConfig, start time.Time) {
	res.LatencyMs = float64(f.now().Sub(start).Microseconds()) / 1000.0

	if f.metrics != nil {
		f.metrics.Validations.WithLabelValues(res.Decision, orNone(res.BlockReason)).Inc()
		f.metrics.ValidationDuration.WithLabelValues(res.Decision).Observe(res.LatencyMs / 1000.0)
		f.metrics.RiskScore.Observe(res.RiskScore)
	}

	if !res.Degraded && res.Decision == DecisionBlock &&
		res.RiskScore >= cfg.AlertRiskThreshold && cfg.AlertRiskThreshold > 0 && f.alerter.Enabled() {
		alert := recorder.Alert{
			Kind:        recorder.AlertHighRiskBlock,
			Fingerprint: fingerprintHash(res.Fingerprint),
			Decision:    res.Decision,
			RiskScore:   res.RiskScore,
			Reason:      res.BlockReason,
		}
		if addr != nil {
			alert.Email = addr.Email
			alert.Domain = addr.Domain
		}
		f.alerter.FireAsync(alert)
	}

	if f.recorder != nil {
		f.recorder.Enqueue(buildRecord(res, req, addr, ens))
	}
}

// addPatternSignals publishes plus-tag, sequential and dated signals
func (f *FraudFilter) addPatternSignals(signals features.Vector, addr *email.Address, flags artifacts.FeatureFlags) {
	signals.SetBool(features.HasPlusAddressing, addr.Plus.Present)

	if !flags.PatternCheck {
		return
	}

	signals.SetBool(features.PlusRisk, addr.Plus.Suspicious)
	signals.SetBool(sigPlusAbuse, addr.Plus.Suspicious)

	if addr.Sequential.Detected {
		signals.Set(sigSequentialConfidence, addr.Sequential.Confidence)
	} else {
		signals.Set(sigSequentialConfidence, 0)
	}
	if addr.Dated.Detected {
		signals.Set(sigDatedRisk, addr.Dated.Risk)
	} else {
		signals.Set(sigDatedRisk, 0)
	}
}

// addDomainSignals publishes disposable, TLD and free-provider signals and
// reports whether the domain is disposable.
func (f *FraudFilter) addDomainSignals(ctx context.Context, signals features.Vector, addr *email.Address, flags artifacts.FeatureFlags) bool {
	signals.SetBool(features.ProviderIsFree, dns.FreeProviders[addr.Domain])

	disposable := false
	if flags.DisposableCheck {
		set, err := f.source.Disposable(ctx)
		if err != nil {
			// Unknown, not zero: leave the signal absent.
			log.Printf("filter: disposable list unavailable: %v", err)
		} else {
			disposable = set.Contains(addr.Domain)
			signals.SetBool(features.ProviderIsDisposable, disposable)
			signals.SetBool(sigDomainDisposable, disposable)
		}
	}

	if flags.TLDRiskProfiling {
		profiles, err := f.source.TLDProfiles(ctx)
		if err != nil {
			log.Printf("filter: tld profiles unavailable: %v", err)
		} else {
			signals.Set(features.TLDRisk, profiles.Risk(addr.TLD))
		}
	}
	return disposable
}

// addContextSignals publishes edge-supplied signals
func (f *FraudFilter) addContextSignals(signals features.Vector, ctx *ClientContext) {
	if ctx == nil {
		return
	}
	if ctx.BotScore != nil {
		signals.Set(features.BotScore, *ctx.BotScore)
	}
}

// addMXSignals resolves MX within the request budget. Failures null the
// features rather than failing the request.
func (f *FraudFilter) addMXSignals(ctx context.Context, signals features.Vector, addr *email.Address, flags artifacts.FeatureFlags) {
	if !flags.MXCheck || f.resolver == nil {
		return
	}

	result, err := f.resolver.Resolve(ctx, addr.Domain)
	if err != nil || result == nil {
		if f.metrics != nil {
			f.metrics.MXTimeouts.Inc()
		}
		return
	}
	signals.SetBool(features.MXHasRecords, result.HasMX)
	signals.Set(features.MXProviderBucket, dns.ProviderCode(result.Provider))
}

// addEntropySignals publishes the ensemble entropies; non-finite values stay
// absent.
func addEntropySignals(signals features.Vector, r *markov.Result) {
	setFinite(signals, features.CELegit2, r.HLegit2)
	setFinite(signals, features.CEFraud2, r.HFraud2)
	setFinite(signals, features.CEDiff2, r.HLegit2-r.HFraud2)
	setFinite(signals, features.CELegit3, r.HLegit3)
	setFinite(signals, features.CEFraud3, r.HFraud3)
	setFinite(signals, features.CEDiff3, r.HLegit3-r.HFraud3)
	setFinite(signals, features.MinEntropy, r.MinEntropy)
}

func setFinite(signals features.Vector, name string, value float64) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return
	}
	signals.Set(name, value)
}

func fingerprintHash(fp *Fingerprint) string {
	if fp == nil {
		return ""
	}
	return fp.Hash
}

func orNone(reason string) string {
	if reason == "" {
		return "none"
	}
	return reason
}
