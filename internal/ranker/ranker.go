// Package ranker implements the query pipeline — C10: preprocess, truncate,
// synonym-enrich, BM25-score, title-boost, and normalize to a fixed top-k.
package ranker

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"sort"
	"strings"

	"github.com/arkinul/tuebingen-search/internal/textpipeline"
)

const (
	// HardTruncateInputThreshold triggers an extra truncation pass before
	// enrichment when the preprocessed query is unusually long.
	HardTruncateInputThreshold = 50
	// HardTruncateLimit is M for that extra pass.
	HardTruncateLimit = 20
	// EnrichmentInputLimit is M for the normal ranking pass that selects
	// which original tokens feed enrichment.
	EnrichmentInputLimit = 30
	// SynonymsPerToken caps how many synonyms are looked up per token.
	SynonymsPerToken = 3
	// EnrichmentBudget caps the total number of terms (original +
	// enriched) the query ends up with.
	EnrichmentBudget = 15

	bm25K1 = 1.5
	bm25B  = 0.75

	// TitleBoost multiplies a candidate's score when its title shares a
	// lemma with the original (pre-enrichment) query.
	TitleBoost = 1.5
	// TopK is the number of results returned.
	TopK = 12
)

// Result is one ranked search hit.
type Result struct {
	URL   string
	Title string
	Score float64
}

// Ranker answers queries against an index DB.
type Ranker struct {
	db         *sql.DB
	pipeline   *textpipeline.Pipeline
	classifier Classifier
	synonyms   SynonymLookup
}

// New builds a Ranker over db using the shared pipeline plus the given
// classifier and synonym lookup (DefaultClassifier/DefaultSynonymLookup in
// production).
func New(db *sql.DB, classifier Classifier, synonyms SynonymLookup) *Ranker {
	return &Ranker{
		db:         db,
		pipeline:   textpipeline.New(),
		classifier: classifier,
		synonyms:   synonyms,
	}
}

type queryToken struct {
	lemma      string
	cased      string
	freq       int
	firstIndex int
}

// Query runs the full pipeline and returns up to TopK results ordered by
// descending score. Returns an empty slice (not an error) when no query
// term exists in the vocabulary, or the index is empty.
func (r *Ranker) Query(ctx context.Context, query string) ([]Result, error) {
	tokens := r.tokenizeWithCase(query)
	if len(tokens) > HardTruncateInputThreshold {
		tokens = truncate(tokens, r.classifier, HardTruncateLimit)
	}
	ranked := truncate(tokens, r.classifier, EnrichmentInputLimit)

	originalLemmas := make([]string, len(ranked))
	originalSet := make(map[string]bool, len(ranked))
	for i, t := range ranked {
		originalLemmas[i] = t.lemma
		originalSet[t.lemma] = true
	}

	queryTerms, isOriginal := enrich(originalLemmas, r.synonyms, SynonymsPerToken, EnrichmentBudget)
	if len(queryTerms) == 0 {
		return nil, nil
	}

	docLens, avgDL, err := r.loadDocLens(ctx)
	if err != nil {
		return nil, err
	}
	n := len(docLens)
	if n == 0 || avgDL == 0 {
		return nil, nil
	}

	scores := make(map[int64]float64)
	for _, term := range queryTerms {
		tfByDoc, df, ok, err := r.termPostings(ctx, term)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		idf := math.Log((float64(n)-float64(df)+0.5)/(float64(df)+0.5) + 1)
		weight := 1.0
		if isOriginal[term] {
			weight = 2.0
		}
		for docID, tf := range tfByDoc {
			dl := float64(docLens[docID])
			contribution := weight * idf * float64(tf) * (bm25K1 + 1) /
				(float64(tf) + bm25K1*(1-bm25B+bm25B*dl/avgDL))
			scores[docID] += contribution
		}
	}
	if len(scores) == 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(scores))
	for docID, score := range scores {
		url, title, err := r.lookupDoc(ctx, docID)
		if err != nil {
			return nil, err
		}
		if intersectsTitle(r.pipeline.Preprocess(title), originalSet) {
			score *= TitleBoost
		}
		results = append(results, Result{URL: url, Title: title, Score: score})
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > TopK {
		results = results[:TopK]
	}
	normalizeScores(results)
	return results, nil
}

func (r *Ranker) tokenizeWithCase(text string) []queryToken {
	cased := textpipeline.TokenizeCased(text)
	order := make([]string, 0, len(cased))
	casedOf := make(map[string]string, len(cased))
	counts := make(map[string]int, len(cased))
	for _, tok := range cased {
		lemma := textpipeline.DefaultLemmatizer.Lemmatize(strings.ToLower(tok))
		if r.pipeline.IsStopword(lemma) {
			continue
		}
		if _, seen := counts[lemma]; !seen {
			order = append(order, lemma)
			casedOf[lemma] = tok
		}
		counts[lemma]++
	}
	tokens := make([]queryToken, len(order))
	for i, lemma := range order {
		tokens[i] = queryToken{lemma: lemma, cased: casedOf[lemma], freq: counts[lemma], firstIndex: i}
	}
	return tokens
}

// truncate ranks tokens by (frequency desc, is_named_entity desc, is_noun
// desc, is_adj_or_verb desc, length desc) and keeps the top limit, ties
// broken by original query position to stay deterministic.
func truncate(tokens []queryToken, classifier Classifier, limit int) []queryToken {
	sorted := make([]queryToken, len(tokens))
	copy(sorted, tokens)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.freq != b.freq {
			return a.freq > b.freq
		}
		if ane, bne := classifier.IsNamedEntity(a.cased), classifier.IsNamedEntity(b.cased); ane != bne {
			return ane
		}
		if an, bn := classifier.IsNoun(a.cased), classifier.IsNoun(b.cased); an != bn {
			return an
		}
		if aav, bav := classifier.IsAdjOrVerb(a.cased), classifier.IsAdjOrVerb(b.cased); aav != bav {
			return aav
		}
		if len(a.lemma) != len(b.lemma) {
			return len(a.lemma) > len(b.lemma)
		}
		return a.firstIndex < b.firstIndex
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// enrich unions up to perToken synonyms per original lemma into the query
// term set, stopping the instant the total budget is reached — mid-token,
// not just between tokens.
func enrich(originalLemmas []string, lookup SynonymLookup, perToken, budget int) ([]string, map[string]bool) {
	final := make([]string, 0, budget)
	isOriginal := make(map[string]bool, budget)
	seen := make(map[string]bool, budget)

	add := func(term string, original bool) bool {
		if seen[term] {
			if original {
				isOriginal[term] = true
			}
			return true
		}
		if len(final) >= budget {
			return false
		}
		seen[term] = true
		final = append(final, term)
		if original {
			isOriginal[term] = true
		}
		return true
	}

	for _, lemma := range originalLemmas {
		if !add(lemma, true) {
			return final, isOriginal
		}
	}
	for _, lemma := range originalLemmas {
		for i, syn := range lookup.Synonyms(lemma) {
			if i >= perToken {
				break
			}
			if !add(syn, false) {
				return final, isOriginal
			}
		}
	}
	return final, isOriginal
}

func (r *Ranker) loadDocLens(ctx context.Context) (map[int64]int, float64, error) {
	idRows, err := r.db.QueryContext(ctx, `SELECT id FROM index_document`)
	if err != nil {
		return nil, 0, err
	}
	lens := make(map[int64]int)
	for idRows.Next() {
		var id int64
		if err := idRows.Scan(&id); err != nil {
			idRows.Close()
			return nil, 0, err
		}
		lens[id] = 0
	}
	idRows.Close()
	if err := idRows.Err(); err != nil {
		return nil, 0, err
	}

	countRows, err := r.db.QueryContext(ctx, `SELECT document_id, COUNT(*) FROM posting GROUP BY document_id`)
	if err != nil {
		return nil, 0, err
	}
	defer countRows.Close()
	var total int
	for countRows.Next() {
		var id int64
		var count int
		if err := countRows.Scan(&id, &count); err != nil {
			return nil, 0, err
		}
		lens[id] = count
		total += count
	}
	if err := countRows.Err(); err != nil {
		return nil, 0, err
	}

	if len(lens) == 0 {
		return lens, 0, nil
	}
	return lens, float64(total) / float64(len(lens)), nil
}

func (r *Ranker) termPostings(ctx context.Context, term string) (map[int64]int, int, bool, error) {
	var wordID int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM word WHERE word = ?`, term).Scan(&wordID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, err
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT document_id, COUNT(*) FROM posting WHERE word_id = ? GROUP BY document_id`, wordID)
	if err != nil {
		return nil, 0, false, err
	}
	defer rows.Close()

	tfByDoc := make(map[int64]int)
	for rows.Next() {
		var docID int64
		var tf int
		if err := rows.Scan(&docID, &tf); err != nil {
			return nil, 0, false, err
		}
		tfByDoc[docID] = tf
	}
	return tfByDoc, len(tfByDoc), true, rows.Err()
}

func (r *Ranker) lookupDoc(ctx context.Context, docID int64) (url, title string, err error) {
	var t sql.NullString
	err = r.db.QueryRowContext(ctx, `SELECT url, title FROM index_document WHERE id = ?`, docID).Scan(&url, &t)
	if err != nil {
		return "", "", err
	}
	return url, t.String, nil
}

func intersectsTitle(titleLemmas []string, originalSet map[string]bool) bool {
	for _, lemma := range titleLemmas {
		if originalSet[lemma] {
			return true
		}
	}
	return false
}

func normalizeScores(results []Result) {
	if len(results) == 0 {
		return
	}
	min, max := results[0].Score, results[0].Score
	for _, res := range results {
		if res.Score < min {
			min = res.Score
		}
		if res.Score > max {
			max = res.Score
		}
	}
	for i := range results {
		if min == max {
			results[i].Score = 100
			continue
		}
		results[i].Score = (results[i].Score - min) / (max - min) * 100
	}
}
