package dns

import (
	"container/list"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// dnsTypeMX is the wire type for MX questions in the DoH JSON API
const dnsTypeMX = 15

// MXRecord is one mail exchanger for a domain
type MXRecord struct {
	Host string `json:"host"`
	Pref uint16 `json:"pref"`
}

// Result is a cached MX resolution. A nil Result means the lookup failed or
// timed out; callers null their MX features rather than failing.
type Result struct {
	Domain     string     `json:"domain"`
	Records    []MXRecord `json:"records"`
	Provider   string     `json:"provider"`
	HasMX      bool       `json:"has_mx"`
	ResolvedAt time.Time  `json:"resolved_at"`
}

// Config contains resolver configuration
type Config struct {
	Endpoint  string        `json:"endpoint" yaml:"endpoint"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
	CacheSize int           `json:"cache_size" yaml:"cache_size"`
	CacheTTL  time.Duration `json:"cache_ttl" yaml:"cache_ttl"`
}

// Stats tracks resolver performance
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Errors    int64 `json:"errors"`
	Timeouts  int64 `json:"timeouts"`
	Evictions int64 `json:"evictions"`
}

// Resolver answers MX questions over DNS-over-HTTPS with an LRU+TTL cache.
// Concurrent lookups for the same domain collapse into one upstream call.
type Resolver struct {
	config Config
	client *http.Client
	group  singleflight.Group

	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recent
	stats   Stats

	now func() time.Time

	// OnLookup is invoked once per Resolve with the outcome: "hit", "miss",
	// "error" or "timeout".
	OnLookup func(outcome string)
}

type cacheEntry struct {
	domain    string
	result    *Result
	expiresAt time.Time
}

// NewResolver creates a resolver, filling config defaults
func NewResolver(config Config) *Resolver {
	if config.Endpoint == "" {
		config.Endpoint = "https://dns.google/resolve"
	}
	if config.Timeout == 0 {
		config.Timeout = 200 * time.Millisecond
	}
	if config.CacheSize == 0 {
		config.CacheSize = 10000
	}
	if config.CacheTTL == 0 {
		config.CacheTTL = 300 * time.Second
	}

	return &Resolver{
		config:  config,
		client:  &http.Client{Timeout: config.Timeout},
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// Resolve returns the MX resolution for a domain. The per-request budget is
// the configured timeout; on timeout or upstream failure it returns nil and
// the error, and the caller proceeds without MX features.
func (r *Resolver) Resolve(ctx context.Context, domain string) (*Result, error) {
	domain = strings.ToLower(strings.TrimSuffix(domain, "."))
	if domain == "" {
		return nil, fmt.Errorf("empty domain")
	}

	if result := r.getCached(domain); result != nil {
		r.notify("hit")
		return result, nil
	}
	r.notify("miss")

	ch := r.group.DoChan(domain, func() (any, error) {
		qctx, cancel := context.WithTimeout(context.Background(), r.config.Timeout)
		defer cancel()

		result, err := r.query(qctx, domain)
		if err != nil {
			timedOut := qctx.Err() != nil
			r.recordError(timedOut)
			if timedOut {
				r.notify("timeout")
			} else {
				r.notify("error")
			}
			return nil, err
		}
		r.put(domain, result)
		return result, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Snapshot returns a copy of the resolver stats
func (r *Resolver) Snapshot() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *Resolver) getCached(domain string) *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	elem, ok := r.entries[domain]
	if !ok {
		r.stats.Misses++
		return nil
	}

	entry := elem.Value.(*cacheEntry)
	if r.now().After(entry.expiresAt) {
		r.order.Remove(elem)
		delete(r.entries, domain)
		r.stats.Misses++
		return nil
	}

	r.order.MoveToFront(elem)
	r.stats.Hits++
	return entry.result
}

func (r *Resolver) put(domain string, result *Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if elem, ok := r.entries[domain]; ok {
		elem.Value.(*cacheEntry).result = result
		elem.Value.(*cacheEntry).expiresAt = r.now().Add(r.config.CacheTTL)
		r.order.MoveToFront(elem)
		return
	}

	for len(r.entries) >= r.config.CacheSize {
		oldest := r.order.Back()
		if oldest == nil {
			break
		}
		r.order.Remove(oldest)
		delete(r.entries, oldest.Value.(*cacheEntry).domain)
		r.stats.Evictions++
	}

	elem := r.order.PushFront(&cacheEntry{
		domain:    domain,
		result:    result,
		expiresAt: r.now().Add(r.config.CacheTTL),
	})
	r.entries[domain] = elem
}

func (r *Resolver) notify(outcome string) {
	if r.OnLookup != nil {
		r.OnLookup(outcome)
	}
}

func (r *Resolver) recordError(timedOut bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Errors++
	if timedOut {
		r.stats.Timeouts++
	}
}

// dohResponse is the DNS JSON API answer shape
type dohResponse struct {
	Status int `json:"Status"`
	Answer []struct {
		Name string `json:"name"`
		Type int    `json:"type"`
		TTL  int    `json:"TTL"`
		Data string `json:"data"`
	} `json:"Answer"`
}

// query issues one DoH request and classifies the answer
func (r *Resolver) query(ctx context.Context, domain string) (*Result, error) {
	endpoint := fmt.Sprintf("%s?name=%s&type=MX", r.config.Endpoint, url.QueryEscape(domain))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("doh query %s: %w", domain, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("doh query %s: status %d", domain, resp.StatusCode)
	}

	var body dohResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("doh decode %s: %w", domain, err)
	}

	result := &Result{
		Domain:     domain,
		ResolvedAt: r.now(),
	}
	for _, answer := range body.Answer {
		if answer.Type != dnsTypeMX {
			continue
		}
		record, ok := parseMXData(answer.Data)
		if !ok {
			continue
		}
		result.Records = append(result.Records, record)
	}

	result.HasMX = len(result.Records) > 0
	result.Provider = ClassifyProvider(domain, result.Records)
	return result, nil
}

// parseMXData splits "10 aspmx.l.google.com." into preference and host
func parseMXData(data string) (MXRecord, bool) {
	fields := strings.Fields(data)
	if len(fields) != 2 {
		return MXRecord{}, false
	}
	pref, err := strconv.ParseUint(fields[0], 10, 16)
	if err != nil {
		return MXRecord{}, false
	}
	host := strings.ToLower(strings.TrimSuffix(fields[1], "."))
	if host == "" {
		return MXRecord{}, false
	}
	return MXRecord{Host: host, Pref: uint16(pref)}, true
}
