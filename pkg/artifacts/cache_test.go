package artifacts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu       sync.Mutex
	payloads map[string][]byte
	errs     map[string]error
	calls    map[string]int
	gate     chan struct{}
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		payloads: make(map[string][]byte),
		errs:     make(map[string]error),
		calls:    make(map[string]int),
	}
}

func (f *fakeBackend) GetVerified(ctx context.Context, key string) ([]byte, *Meta, error) {
	f.mu.Lock()
	f.calls[key]++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[key]; ok {
		return nil, nil, err
	}
	payload, ok := f.payloads[key]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return payload, nil, nil
}

func (f *fakeBackend) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func (f *fakeBackend) set(key, payload string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[key] = []byte(payload)
	delete(f.errs, key)
}

func (f *fakeBackend) fail(key string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[key] = err
}

const modelPayload = `{"order":2,"states":[{"context":"a","nextChars":[["b",3]],"totalTransitions":3}],"trainingCount":1}`

func TestColdMissBlocksAndLoads(t *testing.T) {
	backend := newFakeBackend()
	backend.set(KeyConfig, `{"version":"v1","riskThresholds":{"warn":0.3,"block":0.35}}`)
	cache := NewCache(backend, nil)

	cfg, err := cache.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1", cfg.Version)
	assert.Equal(t, 0.35, cfg.RiskThresholds.Block)
	assert.Equal(t, 1, backend.callCount(KeyConfig))

	// Fresh snapshot: no second fetch.
	_, err = cache.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, backend.callCount(KeyConfig))
}

func TestSingleflightCollapsesConcurrentMisses(t *testing.T) {
	backend := newFakeBackend()
	backend.set(KeyConfig, `{"version":"v1"}`)
	backend.gate = make(chan struct{})
	cache := NewCache(backend, nil)

	const readers = 20
	var wg sync.WaitGroup
	errs := make([]error, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cache.Config(context.Background())
		}(i)
	}

	// Let every reader reach the cache before releasing the backend.
	time.Sleep(50 * time.Millisecond)
	close(backend.gate)
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "reader %d", i)
	}
	assert.Equal(t, 1, backend.callCount(KeyConfig))
}

func TestStaleSnapshotServedDuringRevalidation(t *testing.T) {
	backend := newFakeBackend()
	backend.set(KeyConfig, `{"version":"v1"}`)
	cache := NewCache(backend, nil)

	_, err := cache.Config(context.Background())
	require.NoError(t, err)

	// Expire the snapshot and change the stored artifact.
	cache.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	backend.set(KeyConfig, `{"version":"v2"}`)

	cfg, err := cache.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1", cfg.Version, "stale snapshot served while revalidating")

	assert.Eventually(t, func() bool {
		snap := cache.Snapshot(KindConfig)
		return snap != nil && snap.Value.(*RuntimeConfig).Version == "v2"
	}, time.Second, 5*time.Millisecond)
}

func TestFailedRefreshRetainsStaleSnapshot(t *testing.T) {
	backend := newFakeBackend()
	backend.set(KeyConfig, `{"version":"v1"}`)
	cache := NewCache(backend, nil)

	var mu sync.Mutex
	var failures []Kind
	cache.OnFetchError = func(kind Kind, err error) {
		mu.Lock()
		failures = append(failures, kind)
		mu.Unlock()
	}

	_, err := cache.Config(context.Background())
	require.NoError(t, err)

	cache.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	backend.fail(KeyConfig, errors.New("connection refused"))

	cfg, err := cache.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v1", cfg.Version)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(failures) > 0 && failures[0] == KindConfig
	}, time.Second, 5*time.Millisecond)
}

func TestRefreshOutcomesReported(t *testing.T) {
	backend := newFakeBackend()
	backend.set(KeyConfig, `{"version":"v1"}`)
	cache := NewCache(backend, nil)

	type refresh struct {
		kind Kind
		ok   bool
	}
	var mu sync.Mutex
	var refreshes []refresh
	cache.OnRefresh = func(kind Kind, ok bool) {
		mu.Lock()
		refreshes = append(refreshes, refresh{kind, ok})
		mu.Unlock()
	}

	_, err := cache.Config(context.Background())
	require.NoError(t, err)

	cache.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	backend.fail(KeyConfig, errors.New("connection refused"))

	_, err = cache.Config(context.Background())
	require.NoError(t, err, "stale snapshot still served")

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(refreshes) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []refresh{{KindConfig, true}, {KindConfig, false}}, refreshes)
}

func TestInvalidate(t *testing.T) {
	backend := newFakeBackend()
	backend.set(KeyConfig, `{"version":"v1"}`)
	cache := NewCache(backend, nil)

	_, err := cache.Config(context.Background())
	require.NoError(t, err)

	backend.set(KeyConfig, `{"version":"v2"}`)
	require.NoError(t, cache.Invalidate("config"))

	cfg, err := cache.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "v2", cfg.Version)
	assert.Equal(t, 2, backend.callCount(KeyConfig))

	require.NoError(t, cache.Invalidate("all"))
	assert.Nil(t, cache.Snapshot(KindConfig))

	assert.Error(t, cache.Invalidate("nonsense"))
}

func TestConfigDefaultsWhenUnseeded(t *testing.T) {
	cache := NewCache(newFakeBackend(), nil)

	cfg, err := cache.Config(context.Background())
	require.NoError(t, err)
	assert.Equal(t, DefaultThresholds(), cfg.RiskThresholds)
	assert.True(t, cfg.FeatureFlags.MarkovChain)
}

func TestModelsRequireTwoGramPair(t *testing.T) {
	backend := newFakeBackend()
	backend.set(KeyLegit2, modelPayload)
	backend.set(KeyFraud2, modelPayload)
	cache := NewCache(backend, nil)

	set, err := cache.Models(context.Background())
	require.NoError(t, err)
	require.NotNil(t, set.TwoGram().Legit)
	assert.Nil(t, set.ThreeGram(), "missing 3-gram pair degrades to nil")

	missing := NewCache(newFakeBackend(), nil)
	_, err = missing.Models(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestModelsRejectChecksumMismatch(t *testing.T) {
	backend := newFakeBackend()
	backend.set(KeyLegit2, modelPayload)
	backend.fail(KeyFraud2, fmt.Errorf("%w: %s", ErrChecksumMismatch, KeyFraud2))
	cache := NewCache(backend, nil)

	_, err := cache.Models(context.Background())
	assert.ErrorIs(t, err, ErrChecksumMismatch)
}

func TestHeuristicsDefaultWhenUnseeded(t *testing.T) {
	cache := NewCache(newFakeBackend(), nil)

	engine, err := cache.Heuristics(context.Background())
	require.NoError(t, err)

	out := engine.Evaluate(map[string]float64{"domain_disposable": 1})
	assert.InDelta(t, 0.20, out.Total, 1e-9)
}

func TestDisposableAndTLDViews(t *testing.T) {
	backend := newFakeBackend()
	backend.set(KeyDisposable, `{"version":"d1","domains":["TempMail.com","mailinator.com"]}`)
	backend.set(KeyTLDProfiles, `{"version":"t1","profiles":{"xyz":0.8,"com":0.0}}`)
	cache := NewCache(backend, nil)

	disposable, err := cache.Disposable(context.Background())
	require.NoError(t, err)
	assert.True(t, disposable.Contains("tempmail.com"))
	assert.False(t, disposable.Contains("gmail.com"))
	assert.Equal(t, 2, disposable.Len())

	tld, err := cache.TLDProfiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0.8, tld.Risk("xyz"))
	assert.Zero(t, tld.Risk("org"))
}

func TestChecksumStable(t *testing.T) {
	a := Checksum([]byte("payload"))
	b := Checksum([]byte("payload"))
	c := Checksum([]byte("other"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
