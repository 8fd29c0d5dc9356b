package webui_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkinul/tuebingen-search/internal/ranker"
	"github.com/arkinul/tuebingen-search/internal/storage"
	"github.com/arkinul/tuebingen-search/internal/telemetry"
	"github.com/arkinul/tuebingen-search/internal/webui"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	ctx := context.Background()
	store, err := storage.OpenIndexStore(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	res, err := store.DB.ExecContext(ctx, `INSERT INTO index_document (url, title, content) VALUES (?, ?, ?)`,
		"https://example.org/tuebingen", "Tuebingen", "tuebingen is a town on the neckar")
	require.NoError(t, err)
	docID, err := res.LastInsertId()
	require.NoError(t, err)

	for position, term := range []string{"tuebingen", "town", "neckar"} {
		wordRes, err := store.DB.ExecContext(ctx, `INSERT INTO word (word) VALUES (?)`, term)
		require.NoError(t, err)
		wordID, err := wordRes.LastInsertId()
		require.NoError(t, err)
		_, err = store.DB.ExecContext(ctx, `INSERT INTO posting (word_id, document_id, position) VALUES (?, ?, ?)`,
			wordID, docID, position)
		require.NoError(t, err)
	}

	r := ranker.New(store.DB, ranker.DefaultClassifier, ranker.DefaultSynonymLookup)
	server := webui.New(r, telemetry.New(io.Discard))
	return httptest.NewServer(server.Handler())
}

func TestGetIndexServesHTML(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "Tübingen Search")
}

func TestPostGenerateWordCloudReturnsHits(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	payload, err := json.Marshal(map[string]string{"query": "tuebingen"})
	require.NoError(t, err)

	resp, err := http.Post(ts.URL+"/generate_word_cloud", "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var hits []struct {
		Text  string  `json:"text"`
		Value float64 `json:"value"`
		URL   string  `json:"url"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&hits))
	require.Len(t, hits, 1)
	assert.Equal(t, "Tuebingen", hits[0].Text)
	assert.Equal(t, "https://example.org/tuebingen", hits[0].URL)
}

func TestPostGenerateWordCloudRejectsInvalidJSON(t *testing.T) {
	ts := newTestServer(t)
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/generate_word_cloud", "application/json", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
