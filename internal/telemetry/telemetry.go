// Package telemetry records structured, observational events about a crawl,
// index, or query run. It is an observer only: nothing in this package may
// influence scheduling, retry, or ranking decisions.
package telemetry

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/arkinul/tuebingen-search/pkg/hashutil"
)

// Attribute is a single key/value pair attached to a recorded event.
type Attribute struct {
	Key   AttributeKey
	Value string
}

func NewAttr(key AttributeKey, val string) Attribute {
	return Attribute{Key: key, Value: val}
}

type AttributeKey string

const (
	AttrTime       AttributeKey = "time"
	AttrURL        AttributeKey = "url"
	AttrHost       AttributeKey = "host"
	AttrHTTPStatus AttributeKey = "http_status"
	AttrWorker     AttributeKey = "worker"
	AttrQuery      AttributeKey = "query"
	AttrDocID      AttributeKey = "doc_id"
)

// Cause is a closed, canonical classification used exclusively for
// observability. It must never be used to derive retry, continuation, or
// abort decisions — pkg/failure.Severity is the sole control-flow input.
type Cause int

const (
	CauseUnknown Cause = iota
	CauseNetworkFailure
	CausePolicyDisallow
	CauseContentInvalid
	CauseStorageFailure
	CauseInvariantViolation
)

func (c Cause) String() string {
	switch c {
	case CauseNetworkFailure:
		return "network_failure"
	case CausePolicyDisallow:
		return "policy_disallow"
	case CauseContentInvalid:
		return "content_invalid"
	case CauseStorageFailure:
		return "storage_failure"
	case CauseInvariantViolation:
		return "invariant_violation"
	default:
		return "unknown"
	}
}

// Recorder records fetch events, errors, and terminal run summaries. The
// crawl controller, the indexer and the web UI each take one.
type Recorder interface {
	RecordFetch(url string, httpStatus int, duration time.Duration)
	RecordError(pkg, action string, cause Cause, errString string, attrs ...Attribute)
	RecordCrawlSummary(totalPages, totalErrors int, duration time.Duration)
	RecordIndexSummary(totalDocuments, totalWords, totalPostings int, duration time.Duration)
	RecordQuery(query string, resultCount int, duration time.Duration)
}

type zerologRecorder struct {
	log   zerolog.Logger
	runID string
}

// New builds a Recorder backed by zerolog, writing to w (os.Stdout if nil).
// Every event it emits carries a run_id: a short hash computed once per
// process so log lines from the same crawl/index/serve invocation can be
// correlated even when several runs are interleaved in the same stream.
func New(w io.Writer) Recorder {
	if w == nil {
		w = os.Stdout
	}
	return &zerologRecorder{
		log:   zerolog.New(w).With().Timestamp().Logger(),
		runID: newRunID(),
	}
}

func newRunID() string {
	seed := fmt.Sprintf("%d-%d", os.Getpid(), time.Now().UnixNano())
	sum, err := hashutil.HashBytes([]byte(seed), hashutil.HashAlgoBLAKE3)
	if err != nil {
		return ""
	}
	return sum[:12]
}

func (r *zerologRecorder) event(level zerolog.Level) *zerolog.Event {
	return r.log.WithLevel(level).Str("run_id", r.runID)
}

func (r *zerologRecorder) RecordFetch(url string, httpStatus int, duration time.Duration) {
	r.event(zerolog.InfoLevel).
		Str("event", "fetch").
		Str("url", url).
		Int("http_status", httpStatus).
		Dur("duration", duration).
		Msg("fetched url")
}

func (r *zerologRecorder) RecordError(pkg, action string, cause Cause, errString string, attrs ...Attribute) {
	event := r.event(zerolog.WarnLevel).
		Str("event", "error").
		Str("package", pkg).
		Str("action", action).
		Str("cause", cause.String()).
		Str("error", errString)
	for _, a := range attrs {
		event = event.Str(string(a.Key), a.Value)
	}
	event.Msg("recoverable failure")
}

func (r *zerologRecorder) RecordCrawlSummary(totalPages, totalErrors int, duration time.Duration) {
	r.event(zerolog.InfoLevel).
		Str("event", "crawl_summary").
		Int("total_pages", totalPages).
		Int("total_errors", totalErrors).
		Dur("duration", duration).
		Msg("crawl finished")
}

func (r *zerologRecorder) RecordIndexSummary(totalDocuments, totalWords, totalPostings int, duration time.Duration) {
	r.event(zerolog.InfoLevel).
		Str("event", "index_summary").
		Int("total_documents", totalDocuments).
		Int("total_words", totalWords).
		Int("total_postings", totalPostings).
		Dur("duration", duration).
		Msg("indexing finished")
}

func (r *zerologRecorder) RecordQuery(query string, resultCount int, duration time.Duration) {
	r.event(zerolog.InfoLevel).
		Str("event", "query").
		Str("query", query).
		Int("result_count", resultCount).
		Dur("duration", duration).
		Msg("query served")
}
