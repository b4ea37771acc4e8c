package artifacts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/fraudguard/fraud-filter/pkg/forest"
	"github.com/fraudguard/fraud-filter/pkg/heuristics"
	"github.com/fraudguard/fraud-filter/pkg/markov"
	"github.com/fraudguard/fraud-filter/pkg/whitelist"
)

// fetchTimeout bounds one backend fetch independently of request deadlines.
// A caller that gives up does not cancel the fetch; the result still lands
// in cache for the next reader.
const fetchTimeout = 5 * time.Second

// Backend is the slice of the store the cache needs
type Backend interface {
	GetVerified(ctx context.Context, key string) ([]byte, *Meta, error)
}

// Snapshot is one immutable loaded artifact. Readers obtain it via a single
// atomic load and hold it for the duration of an evaluation.
type Snapshot struct {
	Value    any
	Version  string
	Checksum string
	LoadedAt time.Time
}

type entry struct {
	ttl time.Duration
	ptr atomic.Pointer[Snapshot]
}

// Cache holds one snapshot per artifact kind with per-kind TTLs. Expired
// snapshots are served stale while a single background fetch revalidates
// them; only a cold miss blocks the reader.
type Cache struct {
	backend Backend
	entries map[Kind]*entry
	group   singleflight.Group
	now     func() time.Time

	// OnFetchError is invoked for every failed backend fetch, after the
	// stale snapshot (if any) has been retained.
	OnFetchError func(kind Kind, err error)

	// OnRefresh is invoked once per completed fetch attempt
	OnRefresh func(kind Kind, ok bool)
}

// DefaultTTLs returns the per-kind refresh intervals
func DefaultTTLs() map[Kind]time.Duration {
	return map[Kind]time.Duration{
		KindConfig:     60 * time.Second,
		KindHeuristics: 60 * time.Second,
		KindWhitelist:  60 * time.Second,
		KindModels:     300 * time.Second,
		KindForest:     300 * time.Second,
		KindDisposable: 600 * time.Second,
		KindTLD:        600 * time.Second,
	}
}

// NewCache builds a cache over a backend. Entries in ttls override the
// defaults for their kind.
func NewCache(backend Backend, ttls map[Kind]time.Duration) *Cache {
	c := &Cache{
		backend: backend,
		entries: make(map[Kind]*entry),
		now:     time.Now,
	}
	for kind, ttl := range DefaultTTLs() {
		if override, ok := ttls[kind]; ok && override > 0 {
			ttl = override
		}
		c.entries[kind] = &entry{ttl: ttl}
	}
	return c
}

// Invalidate drops the snapshot for one kind, or every snapshot for "all".
// The next reader of a dropped kind performs a blocking fetch.
func (c *Cache) Invalidate(kind string) error {
	if kind == "all" {
		for _, e := range c.entries {
			e.ptr.Store(nil)
		}
		return nil
	}

	e, ok := c.entries[Kind(kind)]
	if !ok {
		return fmt.Errorf("unknown artifact kind %q", kind)
	}
	e.ptr.Store(nil)
	return nil
}

// Snapshot returns the current snapshot for a kind without triggering a
// fetch, nil when nothing is loaded.
func (c *Cache) Snapshot(kind Kind) *Snapshot {
	e, ok := c.entries[kind]
	if !ok {
		return nil
	}
	return e.ptr.Load()
}

// load implements the snapshot lifecycle for one kind
func (c *Cache) load(ctx context.Context, kind Kind, fetch func(context.Context) (*Snapshot, error)) (*Snapshot, error) {
	e := c.entries[kind]

	if snap := e.ptr.Load(); snap != nil {
		if c.now().Sub(snap.LoadedAt) < e.ttl {
			return snap, nil
		}
		// Stale: revalidate in the background, serve the old snapshot now.
		c.refresh(kind, e, fetch)
		return snap, nil
	}

	ch := c.refresh(kind, e, fetch)
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Snapshot), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// refresh issues at most one in-flight fetch per kind. The returned channel
// is buffered; callers serving stale data may ignore it.
func (c *Cache) refresh(kind Kind, e *entry, fetch func(context.Context) (*Snapshot, error)) <-chan singleflight.Result {
	return c.group.DoChan(string(kind), func() (any, error) {
		fctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		snap, err := fetch(fctx)
		if c.OnRefresh != nil {
			c.OnRefresh(kind, err == nil)
		}
		if err != nil {
			if c.OnFetchError != nil {
				c.OnFetchError(kind, err)
			}
			return nil, err
		}
		e.ptr.Store(snap)
		return snap, nil
	})
}

// Config returns the runtime config snapshot. Callers fall back to
// DefaultRuntimeConfig when this errors on a cold start.
func (c *Cache) Config(ctx context.Context) (*RuntimeConfig, error) {
	snap, err := c.load(ctx, KindConfig, c.fetchConfig)
	if err != nil {
		return nil, err
	}
	return snap.Value.(*RuntimeConfig), nil
}

// Models returns the Markov model snapshot. An error here drives the
// degraded-model floor.
func (c *Cache) Models(ctx context.Context) (*ModelSet, error) {
	snap, err := c.load(ctx, KindModels, c.fetchModels)
	if err != nil {
		return nil, err
	}
	return snap.Value.(*ModelSet), nil
}

// Forest returns the random forest, nil when the artifact was never seeded
func (c *Cache) Forest(ctx context.Context) (*forest.Forest, error) {
	snap, err := c.load(ctx, KindForest, c.fetchForest)
	if err != nil {
		return nil, err
	}
	if snap.Value == nil {
		return nil, nil
	}
	return snap.Value.(*forest.Forest), nil
}

// Heuristics returns the compiled heuristic engine, built from the shipped
// defaults when the artifact is absent.
func (c *Cache) Heuristics(ctx context.Context) (*heuristics.Engine, error) {
	snap, err := c.load(ctx, KindHeuristics, c.fetchHeuristics)
	if err != nil {
		return nil, err
	}
	return snap.Value.(*heuristics.Engine), nil
}

// Whitelist returns the compiled whitelist engine, empty when unseeded
func (c *Cache) Whitelist(ctx context.Context) (*whitelist.Engine, error) {
	snap, err := c.load(ctx, KindWhitelist, c.fetchWhitelist)
	if err != nil {
		return nil, err
	}
	return snap.Value.(*whitelist.Engine), nil
}

// Disposable returns the disposable-domain set, empty when unseeded
func (c *Cache) Disposable(ctx context.Context) (*DisposableSet, error) {
	snap, err := c.load(ctx, KindDisposable, c.fetchDisposable)
	if err != nil {
		return nil, err
	}
	return snap.Value.(*DisposableSet), nil
}

// TLDProfiles returns the TLD risk profiles, empty when unseeded
func (c *Cache) TLDProfiles(ctx context.Context) (*TLDProfiles, error) {
	snap, err := c.load(ctx, KindTLD, c.fetchTLD)
	if err != nil {
		return nil, err
	}
	return snap.Value.(*TLDProfiles), nil
}

func (c *Cache) fetchConfig(ctx context.Context) (*Snapshot, error) {
	payload, _, err := c.backend.GetVerified(ctx, KeyConfig)
	if errors.Is(err, ErrNotFound) {
		cfg := DefaultRuntimeConfig()
		return c.snapshot(cfg, cfg.Version, ""), nil
	}
	if err != nil {
		return nil, err
	}

	var cfg RuntimeConfig
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyConfig, err)
	}
	return c.snapshot(&cfg, cfg.Version, Checksum(payload)), nil
}

func (c *Cache) fetchModels(ctx context.Context) (*Snapshot, error) {
	set := &ModelSet{}

	var meta *Meta
	var err error
	if set.Legit2, meta, err = c.fetchModel(ctx, KeyLegit2); err != nil {
		return nil, err
	}
	if meta != nil {
		set.Version = meta.Version
	}
	if set.Fraud2, _, err = c.fetchModel(ctx, KeyFraud2); err != nil {
		return nil, err
	}

	// 3-gram models are optional; the ensemble arbitrates 2-gram-only.
	if set.Legit3, err = c.fetchOptionalModel(ctx, KeyLegit3); err != nil {
		return nil, err
	}
	if set.Fraud3, err = c.fetchOptionalModel(ctx, KeyFraud3); err != nil {
		return nil, err
	}

	return c.snapshot(set, set.Version, ""), nil
}

func (c *Cache) fetchModel(ctx context.Context, key string) (*markov.Model, *Meta, error) {
	payload, meta, err := c.backend.GetVerified(ctx, key)
	if err != nil {
		return nil, nil, err
	}

	var model markov.Model
	if err := json.Unmarshal(payload, &model); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return &model, meta, nil
}

func (c *Cache) fetchOptionalModel(ctx context.Context, key string) (*markov.Model, error) {
	model, _, err := c.fetchModel(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return model, err
}

func (c *Cache) fetchForest(ctx context.Context) (*Snapshot, error) {
	payload, _, err := c.backend.GetVerified(ctx, KeyForest)
	if errors.Is(err, ErrNotFound) {
		return c.snapshot(nil, "", ""), nil
	}
	if err != nil {
		return nil, err
	}

	var f forest.Forest
	if err := json.Unmarshal(payload, &f); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyForest, err)
	}
	if err := f.Validate(); err != nil {
		if !errors.Is(err, forest.ErrCalibrationInvalid) {
			return nil, fmt.Errorf("validate %s: %w", KeyForest, err)
		}
		log.Printf("artifacts: %s calibration rejected, using raw scores: %v", KeyForest, err)
	}
	return c.snapshot(&f, f.Meta.Version, Checksum(payload)), nil
}

func (c *Cache) fetchHeuristics(ctx context.Context) (*Snapshot, error) {
	payload, _, err := c.backend.GetVerified(ctx, KeyHeuristics)
	if errors.Is(err, ErrNotFound) {
		cfg := heuristics.DefaultConfig()
		engine, err := heuristics.New(cfg)
		if err != nil {
			return nil, err
		}
		return c.snapshot(engine, cfg.Version, ""), nil
	}
	if err != nil {
		return nil, err
	}

	var cfg heuristics.Config
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyHeuristics, err)
	}
	engine, err := heuristics.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", KeyHeuristics, err)
	}
	return c.snapshot(engine, cfg.Version, Checksum(payload)), nil
}

func (c *Cache) fetchWhitelist(ctx context.Context) (*Snapshot, error) {
	payload, _, err := c.backend.GetVerified(ctx, KeyWhitelist)
	if errors.Is(err, ErrNotFound) {
		engine, err := whitelist.New(whitelist.Config{})
		if err != nil {
			return nil, err
		}
		return c.snapshot(engine, "", ""), nil
	}
	if err != nil {
		return nil, err
	}

	var cfg whitelist.Config
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyWhitelist, err)
	}
	engine, err := whitelist.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", KeyWhitelist, err)
	}
	return c.snapshot(engine, cfg.Version, Checksum(payload)), nil
}

func (c *Cache) fetchDisposable(ctx context.Context) (*Snapshot, error) {
	payload, _, err := c.backend.GetVerified(ctx, KeyDisposable)
	if errors.Is(err, ErrNotFound) {
		return c.snapshot(NewDisposableSet(DisposableDomains{}), "", ""), nil
	}
	if err != nil {
		return nil, err
	}

	var domains DisposableDomains
	if err := json.Unmarshal(payload, &domains); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyDisposable, err)
	}
	return c.snapshot(NewDisposableSet(domains), domains.Version, Checksum(payload)), nil
}

func (c *Cache) fetchTLD(ctx context.Context) (*Snapshot, error) {
	payload, _, err := c.backend.GetVerified(ctx, KeyTLDProfiles)
	if errors.Is(err, ErrNotFound) {
		return c.snapshot(&TLDProfiles{}, "", ""), nil
	}
	if err != nil {
		return nil, err
	}

	var profiles TLDProfiles
	if err := json.Unmarshal(payload, &profiles); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyTLDProfiles, err)
	}
	return c.snapshot(&profiles, profiles.Version, Checksum(payload)), nil
}

func (c *Cache) snapshot(value any, version, checksum string) *Snapshot {
	return &Snapshot{
		Value:    value,
		Version:  version,
		Checksum: checksum,
		LoadedAt: c.now(),
	}
}
