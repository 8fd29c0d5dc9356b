// Package webui is the thin HTTP adapter onto the ranker — C12's HTTP
// half. It exposes exactly the two routes spec.md names: a static search
// page and a JSON word-cloud endpoint.
package webui

import (
	"encoding/json"
	"html/template"
	"net/http"
	"time"

	"github.com/arkinul/tuebingen-search/internal/ranker"
	"github.com/arkinul/tuebingen-search/internal/telemetry"
)

var indexTemplate = template.Must(template.New("index").Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Tübingen Search</title>
</head>
<body>
<h1>Tübingen Search</h1>
<form id="search-form">
<input type="text" id="query" name="query" placeholder="what do you want to know about Tübingen?">
<button type="submit">Search</button>
</form>
<ul id="results"></ul>
<script>
document.getElementById("search-form").addEventListener("submit", async (e) => {
	e.preventDefault();
	const query = document.getElementById("query").value;
	const resp = await fetch("/generate_word_cloud", {
		method: "POST",
		headers: {"Content-Type": "application/json"},
		body: JSON.stringify({query}),
	});
	const hits = await resp.json();
	const list = document.getElementById("results");
	list.innerHTML = "";
	for (const hit of hits) {
		const li = document.createElement("li");
		const a = document.createElement("a");
		a.href = hit.url;
		a.textContent = hit.text;
		li.appendChild(a);
		list.appendChild(li);
	}
});
</script>
</body>
</html>`

// wordCloudEntry is one element of the /generate_word_cloud response —
// spec.md §4.12/§6: {text, value, url}.
type wordCloudEntry struct {
	Text  string  `json:"text"`
	Value float64 `json:"value"`
	URL   string  `json:"url"`
}

type wordCloudRequest struct {
	Query string `json:"query"`
}

// Server wires the ranker to its two HTTP routes.
type Server struct {
	ranker   *ranker.Ranker
	recorder telemetry.Recorder
	mux      *http.ServeMux
}

// New builds a Server around r, recording one RecordQuery event per search.
func New(r *ranker.Ranker, recorder telemetry.Recorder) *Server {
	s := &Server{ranker: r, recorder: recorder, mux: http.NewServeMux()}
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("POST /generate_word_cloud", s.handleWordCloud)
	return s
}

// Handler returns the root http.Handler to pass to http.Server / httptest.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	indexTemplate.Execute(w, nil)
}

func (s *Server) handleWordCloud(w http.ResponseWriter, r *http.Request) {
	var req wordCloudRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start := time.Now()
	results, err := s.ranker.Query(r.Context(), req.Query)
	if err != nil {
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	s.recorder.RecordQuery(req.Query, len(results), time.Since(start))

	entries := make([]wordCloudEntry, len(results))
	for i, res := range results {
		text := res.Title
		if text == "" {
			text = res.URL
		}
		entries[i] = wordCloudEntry{Text: text, Value: res.Score, URL: res.URL}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(entries)
}
