package crawlcontroller_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkinul/tuebingen-search/internal/crawlcontroller"
	"github.com/arkinul/tuebingen-search/internal/frontier"
	"github.com/arkinul/tuebingen-search/internal/hostpolicy"
	"github.com/arkinul/tuebingen-search/internal/request"
	"github.com/arkinul/tuebingen-search/internal/storage"
	"github.com/arkinul/tuebingen-search/internal/telemetry"
)

func TestRunCrawlsSeedAndPersistsRelevantDocument(t *testing.T) {
	ctx := context.Background()

	server := httptest.NewServeMux()
	server.HandleFunc("/robots.txt", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("User-agent: *\nAllow: /\n"))
	})
	server.HandleFunc("/tuebingen", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html lang="en"><head><title>Tuebingen</title></head>
			<body><p>Tuebingen is a historic university town on the Neckar river in Germany, with many mentions of Tuebingen throughout its history as Tuebingen grew.</p></body></html>`))
	})
	ts := httptest.NewServer(server)
	defer ts.Close()

	crawlStore, err := storage.OpenCrawlStore(ctx, ":memory:")
	require.NoError(t, err)
	defer crawlStore.Close()
	hostsStore, err := storage.OpenHostsStore(ctx, ":memory:")
	require.NoError(t, err)
	defer hostsStore.Close()

	fr := frontier.New(crawlStore.DB)
	require.NoError(t, fr.Push(ctx, ts.URL+"/tuebingen"))

	hosts := hostpolicy.NewStore(hostsStore.DB, "tuebingen-search/1.0")
	fetcher := request.NewFetcher("tuebingen-search/1.0", time.Second)
	recorder := telemetry.New(nil)

	controller := crawlcontroller.New(crawlStore.DB, hostsStore.DB, fr, hosts, fetcher, recorder, "tuebingen-search/1.0", 2, 15)

	runCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, controller.Run(runCtx))

	var docCount int
	require.NoError(t, crawlStore.DB.QueryRowContext(ctx, `SELECT count(*) FROM document`).Scan(&docCount))
	assert.Equal(t, 1, docCount)

	n, err := fr.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRunTerminatesOnEmptyFrontier(t *testing.T) {
	ctx := context.Background()
	crawlStore, err := storage.OpenCrawlStore(ctx, ":memory:")
	require.NoError(t, err)
	defer crawlStore.Close()
	hostsStore, err := storage.OpenHostsStore(ctx, ":memory:")
	require.NoError(t, err)
	defer hostsStore.Close()

	fr := frontier.New(crawlStore.DB)
	hosts := hostpolicy.NewStore(hostsStore.DB, "tuebingen-search/1.0")
	fetcher := request.NewFetcher("tuebingen-search/1.0", time.Second)
	recorder := telemetry.New(nil)

	controller := crawlcontroller.New(crawlStore.DB, hostsStore.DB, fr, hosts, fetcher, recorder, "tuebingen-search/1.0", 2, 15)

	runCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	assert.NoError(t, controller.Run(runCtx))
}
