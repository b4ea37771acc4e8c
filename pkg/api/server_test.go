package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fraudguard/fraud-filter/pkg/artifacts"
	"github.com/fraudguard/fraud-filter/pkg/filter"
	"github.com/fraudguard/fraud-filter/pkg/forest"
	"github.com/fraudguard/fraud-filter/pkg/heuristics"
	"github.com/fraudguard/fraud-filter/pkg/markov"
	"github.com/fraudguard/fraud-filter/pkg/whitelist"
)

type testSource struct {
	models *artifacts.ModelSet
}

func (s *testSource) Config(ctx context.Context) (*artifacts.RuntimeConfig, error) {
	return artifacts.DefaultRuntimeConfig(), nil
}

func (s *testSource) Models(ctx context.Context) (*artifacts.ModelSet, error) {
	return s.models, nil
}

func (s *testSource) Forest(ctx context.Context) (*forest.Forest, error) {
	return nil, nil
}

func (s *testSource) Heuristics(ctx context.Context) (*heuristics.Engine, error) {
	return heuristics.New(heuristics.DefaultConfig())
}

func (s *testSource) Whitelist(ctx context.Context) (*whitelist.Engine, error) {
	return whitelist.New(whitelist.Config{})
}

func (s *testSource) Disposable(ctx context.Context) (*artifacts.DisposableSet, error) {
	return artifacts.NewDisposableSet(artifacts.DisposableDomains{}), nil
}

func (s *testSource) TLDProfiles(ctx context.Context) (*artifacts.TLDProfiles, error) {
	return &artifacts.TLDProfiles{}, nil
}

type fakeInvalidator struct {
	kinds []string
}

func (f *fakeInvalidator) Invalidate(kind string) error {
	if kind != "all" && kind != "config" {
		return fmt.Errorf("unknown artifact kind %q", kind)
	}
	f.kinds = append(f.kinds, kind)
	return nil
}

func newTestRouter(t *testing.T) (*fakeInvalidator, http.Handler) {
	t.Helper()

	train := func(order int, corpus []string) *markov.Model {
		model, err := markov.NewModel(order)
		require.NoError(t, err)
		for i := 0; i < 10; i++ {
			for _, s := range corpus {
				model.Train(s)
			}
		}
		return model
	}

	legit := []string{"john.smith", "sarah.connor", "mike.jones", "emily.watson"}
	fraud := []string{"xkjq9z2m", "qwpfmvnb", "user123", "qwerty456"}

	src := &testSource{models: &artifacts.ModelSet{
		Legit2: train(2, legit),
		Fraud2: train(2, fraud),
	}}

	inv := &fakeInvalidator{}
	return inv, SetupRouter(filter.New(src), inv, 0)
}

func TestValidateEndpoint(t *testing.T) {
	_, router := newTestRouter(t)

	body := strings.NewReader(`{"email":"john.smith@gmail.com"}`)
	req := httptest.NewRequest(http.MethodPost, "/validate", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "allow", rec.Header().Get("X-Fraud-Decision"))
	assert.NotEmpty(t, rec.Header().Get("X-Fraud-Risk-Score"))

	var res filter.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Valid)
	assert.Equal(t, "allow", res.Decision)
}

func TestValidateMalformedEmailReturns400(t *testing.T) {
	_, router := newTestRouter(t)

	body := strings.NewReader(`{"email":"not-an-email"}`)
	req := httptest.NewRequest(http.MethodPost, "/validate", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "block", rec.Header().Get("X-Fraud-Decision"))
	assert.Equal(t, "format_invalid", rec.Header().Get("X-Fraud-Reason"))
}

func TestValidateBadBody(t *testing.T) {
	_, router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/validate", strings.NewReader("{broken"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthz(t *testing.T) {
	_, router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestInvalidateEndpoint(t *testing.T) {
	inv, router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/cache/invalidate", strings.NewReader(`{"kind":"config"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"config"}, inv.kinds)

	// Unknown kinds are rejected.
	req = httptest.NewRequest(http.MethodPost, "/admin/cache/invalidate", strings.NewReader(`{"kind":"bogus"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing kind is rejected.
	req = httptest.NewRequest(http.MethodPost, "/admin/cache/invalidate", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
