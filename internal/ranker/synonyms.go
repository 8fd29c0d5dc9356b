package ranker

import "github.com/arkinul/tuebingen-search/internal/textpipeline"

// SynonymLookup returns up to a small number of English synonyms for a
// lemmatized token. The shipped implementation is a small embedded
// thesaurus covering the topical vocabulary this engine cares about; no
// WordNet binding is included.
type SynonymLookup interface {
	Synonyms(lemma string) []string
}

type thesaurus map[string][]string

// DefaultSynonymLookup is the process-wide embedded thesaurus, stemmed
// through the same pipeline used everywhere else so lookups and the
// index agree on term form.
var DefaultSynonymLookup SynonymLookup = buildThesaurus()

var rawThesaurus = map[string][]string{
	"tuebingen":   {"tubingen", "tuebinger"},
	"university":  {"college", "academy"},
	"town":        {"city", "municipality"},
	"river":       {"stream", "waterway"},
	"castle":      {"fortress", "palace"},
	"church":      {"cathedral", "chapel"},
	"museum":      {"gallery", "exhibit"},
	"restaurant":  {"eatery", "diner"},
	"hotel":       {"inn", "lodging"},
	"student":     {"undergraduate", "scholar"},
	"history":     {"heritage", "past"},
	"old":         {"historic", "ancient"},
	"walk":        {"stroll", "hike"},
	"bike":        {"cycle", "bicycle"},
	"market":      {"bazaar", "fair"},
	"festival":    {"celebration", "fair"},
	"library":     {"archive", "bookstore"},
	"hike":        {"walk", "trek"},
	"garden":      {"park", "grounds"},
	"bridge":      {"crossing", "span"},
}

func buildThesaurus() thesaurus {
	out := make(thesaurus, len(rawThesaurus))
	for k, syns := range rawThesaurus {
		for _, lemma := range textpipeline.Tokenize(k) {
			stemmed := textpipeline.DefaultLemmatizer.Lemmatize(lemma)
			var stemmedSyns []string
			for _, s := range syns {
				for _, tok := range textpipeline.Tokenize(s) {
					stemmedSyns = append(stemmedSyns, textpipeline.DefaultLemmatizer.Lemmatize(tok))
				}
			}
			out[stemmed] = stemmedSyns
		}
	}
	return out
}

// Synonyms returns the thesaurus entry for lemma, already lemmatized.
func (t thesaurus) Synonyms(lemma string) []string {
	return t[lemma]
}
