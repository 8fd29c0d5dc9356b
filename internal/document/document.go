// Package document parses a fetched HTML page into the record the crawler
// persists — C7: tag-stripped text content, language, relevance score,
// SimHash fingerprint, and outbound links.
package document

import (
	"bytes"
	"context"
	"database/sql"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/arkinul/tuebingen-search/internal/simhash"
	"github.com/arkinul/tuebingen-search/internal/textpipeline"
	"github.com/arkinul/tuebingen-search/pkg/urlutil"
)

// irrelevantTags are stripped before text extraction. Order does not matter;
// this is the IRRELEVANT_TAGS set.
var irrelevantTags = []string{
	"script", "style", "link", "meta", "header", "nav", "aside", "footer",
	"form", "iframe", "template", "button", "input", "select", "textarea",
	"label", "img", "picture", "svg", "canvas", "audio", "video", "object",
	"param", "source", "track", "noscript", "map", "area", "figure",
	"figcaption", "details", "summary", "dialog", "menu", "menuitem",
	"applet", "embed",
}

// keywords are stemmed once at package init. Percent-encoded "tübingen" is
// included because some pages carry it literally in anchor text or titles
// copied verbatim from a URL.
var topicKeywords = []string{
	"tübingen", "hölderlin", "hohenzollern", "neckar", "schwaben",
	"schwäbisch", "tübinger", "bebenhausen", "tubingen", "tuebingen",
	"tuebinger", "swabian", "schwaebisch", "schwabisch", "t%C3%BCbingen",
}

const RelevanceThreshold = 0.01

var stemmedKeywords = buildStemmedKeywords()

func buildStemmedKeywords() map[string]bool {
	set := make(map[string]bool, len(topicKeywords))
	for _, kw := range topicKeywords {
		for _, tok := range textpipeline.Tokenize(kw) {
			set[textpipeline.DefaultLemmatizer.Lemmatize(tok)] = true
		}
	}
	return set
}

// Parsed is the result of parsing raw HTML bytes.
type Parsed struct {
	Lang            string
	Title           string
	MetaDescription string
	Content         string
	links           []string
	baseURL         string
}

// Parse parses data as HTML and strips irrelevant tags before collecting
// text. Returns ok=false on parse failure, matching spec.md §4.7: "on parse
// failure, return false and record no state."
func Parse(baseURL string, data []byte) (Parsed, bool) {
	if len(data) == 0 {
		return Parsed{}, false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return Parsed{}, false
	}

	lang, _ := doc.Find("html").Attr("lang")
	lang = firstLangTag(lang)

	title := strings.TrimSpace(doc.Find("title").First().Text())

	metaDescription, _ := doc.Find(`meta[name="description"]`).Attr("content")

	links := extractLinks(doc, baseURL)

	doc.Find(strings.Join(irrelevantTags, ", ")).Remove()

	text := doc.Find("body")
	var raw string
	if text.Length() > 0 {
		raw = text.Text()
	} else {
		raw = doc.Text()
	}

	return Parsed{
		Lang:            lang,
		Title:           title,
		MetaDescription: strings.TrimSpace(metaDescription),
		Content:         collapseWhitespace(raw),
		links:           links,
		baseURL:         baseURL,
	}, true
}

func firstLangTag(lang string) string {
	lang = strings.TrimSpace(lang)
	if idx := strings.IndexAny(lang, ", "); idx >= 0 {
		return lang[:idx]
	}
	return lang
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

func extractLinks(doc *goquery.Document, baseURL string) []string {
	var hrefs []string
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if href, ok := sel.Attr("href"); ok {
			hrefs = append(hrefs, href)
		}
	})
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil
	}
	return urlutil.Links(base, hrefs)
}

// IsEnglish is true iff lang starts with "en", or failing that, the
// Content-Language response header starts with "en".
func (p Parsed) IsEnglish(contentLanguageHeader string) bool {
	if strings.HasPrefix(strings.ToLower(p.Lang), "en") {
		return true
	}
	return strings.HasPrefix(strings.ToLower(contentLanguageHeader), "en")
}

// Relevance is the keyword density of the combined URL + body text against
// the topical keyword set. Non-English pages always score 0.
func (p Parsed) Relevance(contentLanguageHeader string) float64 {
	if !p.IsEnglish(contentLanguageHeader) {
		return 0
	}
	words := textpipeline.Tokenize(strings.ToLower(p.baseURL + " " + p.Content))
	if len(words) == 0 {
		return 0
	}
	var relevant int
	for _, w := range words {
		if stemmedKeywords[textpipeline.DefaultLemmatizer.Lemmatize(w)] {
			relevant++
		}
	}
	return float64(relevant) / float64(len(words))
}

// IsRelevant reports whether Relevance meets RelevanceThreshold.
func (p Parsed) IsRelevant(contentLanguageHeader string) bool {
	return p.Relevance(contentLanguageHeader) >= RelevanceThreshold
}

// Fingerprint computes the SimHash over content, title, and meta
// description concatenated — matching spec.md's "fingerprint over
// [content, title, meta_description]".
func (p Parsed) Fingerprint() simhash.Fingerprint {
	parts := make([]string, 0, 3)
	if p.Content != "" {
		parts = append(parts, p.Content)
	}
	if p.Title != "" {
		parts = append(parts, p.Title)
	}
	if p.MetaDescription != "" {
		parts = append(parts, p.MetaDescription)
	}
	return simhash.Compute(strings.Join(parts, " "))
}

// Links returns the page's filtered outbound links, resolved against its
// base URL.
func (p Parsed) Links() []string {
	return p.links
}

// CheckForDuplicates performs the linear scan spec.md mandates: compare fp
// against every persisted Document fingerprint, true on the first
// near-duplicate found.
func CheckForDuplicates(ctx context.Context, db *sql.DB, fp simhash.Fingerprint, threshold int) (bool, int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, simhash_hi, simhash_lo FROM document`)
	if err != nil {
		return false, 0, err
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var hi, lo int64
		if err := rows.Scan(&id, &hi, &lo); err != nil {
			return false, 0, err
		}
		other := simhash.Fingerprint{Hi: uint64(hi), Lo: uint64(lo)}
		if simhash.NearDuplicate(fp, other, threshold) {
			return true, id, nil
		}
	}
	return false, 0, rows.Err()
}

// Save persists the document record, keyed by its (unique) request id.
func Save(ctx context.Context, db *sql.DB, requestID int64, p Parsed, contentLanguageHeader string) (int64, error) {
	fp := p.Fingerprint()
	res, err := db.ExecContext(ctx, `
		INSERT INTO document (request_id, simhash_hi, simhash_lo, relevance, language, title, content)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		requestID, int64(fp.Hi), int64(fp.Lo), p.Relevance(contentLanguageHeader), nullableString(p.Lang), nullableString(p.Title), p.Content,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func nullableString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
