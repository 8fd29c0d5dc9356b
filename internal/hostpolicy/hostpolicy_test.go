package hostpolicy_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkinul/tuebingen-search/internal/hostpolicy"
	"github.com/arkinul/tuebingen-search/internal/storage"
)

func newHostsStore(t *testing.T) *storage.HostsStore {
	t.Helper()
	store, err := storage.OpenHostsStore(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestFetchDeniesAllOn403(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	s := hostpolicy.NewStore(newHostsStore(t).DB, "tuebingen-search/1.0")
	p, err := s.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.NotNil(t, p.GlobalPolicy)
	assert.False(t, *p.GlobalPolicy)
}

func TestFetchAllowsAllOnGeneric404(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	s := hostpolicy.NewStore(newHostsStore(t).DB, "tuebingen-search/1.0")
	p, err := s.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.NotNil(t, p.GlobalPolicy)
	assert.True(t, *p.GlobalPolicy)
}

func TestFetchDeniesAllOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := hostpolicy.NewStore(newHostsStore(t).DB, "tuebingen-search/1.0")
	p, err := s.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.NotNil(t, p.GlobalPolicy)
	assert.False(t, *p.GlobalPolicy)
}

func TestFetchParsesRobotsAndDefaultsRate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	}))
	defer server.Close()

	s := hostpolicy.NewStore(newHostsStore(t).DB, "tuebingen-search/1.0")
	p, err := s.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Nil(t, p.GlobalPolicy)
	assert.Equal(t, float64(hostpolicy.DefaultRefillCap), p.RefillCap)
	assert.Equal(t, float64(hostpolicy.DefaultRefillRate), p.RefillRate)
}

func TestFetchHonorsCrawlDelay(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nCrawl-delay: 4\n"))
	}))
	defer server.Close()

	s := hostpolicy.NewStore(newHostsStore(t).DB, "tuebingen-search/1.0")
	p, err := s.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.RefillCap)
	assert.Equal(t, 0.25, p.RefillRate)
}

func TestTryTakeTokenDeniesPermanentlyOnGlobalDeny(t *testing.T) {
	hs := newHostsStore(t)
	s := hostpolicy.NewStore(hs.DB, "tuebingen-search/1.0")
	f := false
	p := hostpolicy.Policy{Origin: "https://example.org", GlobalPolicy: &f, RefillCap: 2, RefillRate: 1, Tokens: 2}
	require.NoError(t, s.Store(context.Background(), p))

	d, err := s.TryTakeToken(context.Background(), p, "/anything", "tuebingen-search/1.0")
	require.NoError(t, err)
	assert.True(t, d.Prohibited)
	assert.False(t, d.Allowed)
}

func TestTryTakeTokenExhaustsBucketThenRateLimits(t *testing.T) {
	hs := newHostsStore(t)
	s := hostpolicy.NewStore(hs.DB, "tuebingen-search/1.0")
	p := hostpolicy.Policy{
		Origin: "https://example.org", RefillCap: 2, RefillRate: 0.001,
		Tokens: 2, Updated: float64(time.Now().UnixNano()) / 1e9,
	}
	require.NoError(t, s.Store(context.Background(), p))

	d1, err := s.TryTakeToken(context.Background(), p, "/a", "tuebingen-search/1.0")
	require.NoError(t, err)
	assert.True(t, d1.Allowed)

	reloaded, ok, err := s.Load(context.Background(), p.Origin)
	require.NoError(t, err)
	require.True(t, ok)

	d2, err := s.TryTakeToken(context.Background(), reloaded, "/b", "tuebingen-search/1.0")
	require.NoError(t, err)
	assert.True(t, d2.Allowed)

	reloaded2, ok, err := s.Load(context.Background(), p.Origin)
	require.NoError(t, err)
	require.True(t, ok)

	d3, err := s.TryTakeToken(context.Background(), reloaded2, "/c", "tuebingen-search/1.0")
	require.NoError(t, err)
	assert.False(t, d3.Allowed)
	assert.False(t, d3.Prohibited)
	assert.GreaterOrEqual(t, d3.RetryAfter, time.Duration(0))
}

func TestLoadRoundTripsRobotsRules(t *testing.T) {
	hs := newHostsStore(t)
	s := hostpolicy.NewStore(hs.DB, "tuebingen-search/1.0")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nDisallow: /private\n"))
	}))
	defer server.Close()

	fetched, err := s.Fetch(context.Background(), server.URL)
	require.NoError(t, err)
	require.NoError(t, s.Store(context.Background(), fetched))

	loaded, ok, err := s.Load(context.Background(), server.URL)
	require.NoError(t, err)
	require.True(t, ok)

	d, err := s.TryTakeToken(context.Background(), loaded, "/private/page", "tuebingen-search/1.0")
	require.NoError(t, err)
	assert.True(t, d.Prohibited)
}
