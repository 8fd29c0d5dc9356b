// Package request performs the crawler's HTTP fetch and persists the
// outcome — C6. Unlike the teacher's fetcher, it never retries: spec.md §7
// is explicit that transport failures, timeouts, and HTTP error codes are
// all terminal for a URL.
package request

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"time"
)

const (
	FetchTimeout   = 3 * time.Second
	AcceptLanguage = "en-US,en,en-GB"
	Accept         = "text/html,application/xhtml+xml,application/xml,text/*"
)

// Record is a fetched (or failed) HTTP request, ready to persist.
type Record struct {
	URLID      int64
	Time       time.Time
	Duration   time.Duration
	Status     Status
	Headers    http.Header
	Data       []byte
}

// Fetcher performs the GET defined by spec.md §4.6/§6.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

func NewFetcher(userAgent string, timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = FetchTimeout
	}
	return &Fetcher{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Make performs the GET and classifies the outcome. It never retries and
// never folds an HTTP error status into FAILED — the actual code is always
// captured.
func (f *Fetcher) Make(ctx context.Context, urlID int64, rawURL string) Record {
	start := time.Now()
	rec := Record{URLID: urlID, Time: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		rec.Status = Failed()
		rec.Duration = time.Since(start)
		return rec
	}
	req.Header.Set("Accept-Language", AcceptLanguage)
	req.Header.Set("Accept", Accept)
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	rec.Duration = time.Since(start)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil || isTimeout(err) {
			rec.Status = Timeout()
		} else {
			rec.Status = Failed()
		}
		return rec
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		rec.Status = Failed()
		return rec
	}

	rec.Status = HTTP(resp.StatusCode)
	rec.Headers = resp.Header
	rec.Data = body
	return rec
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}

// Save persists rec to the crawl DB's request table and returns its id.
func Save(ctx context.Context, db *sql.DB, rec Record) (int64, error) {
	var kind string
	var httpCode sql.NullInt64
	var epoch sql.NullFloat64

	switch rec.Status.Kind() {
	case StatusKindHTTP:
		code, _ := rec.Status.HTTPCode()
		kind, httpCode = string(StatusKindHTTP), sql.NullInt64{Int64: int64(code), Valid: true}
	case StatusKindRateLimited:
		e, _ := rec.Status.RateLimitEpoch()
		kind, epoch = string(StatusKindRateLimited), sql.NullFloat64{Float64: e, Valid: true}
	default:
		kind = string(rec.Status.Kind())
	}

	var headersText sql.NullString
	if rec.Headers != nil {
		headersText = sql.NullString{Valid: true, String: encodeHeaders(rec.Headers)}
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO request (url_id, time, duration_ms, status_kind, status_http, status_epoch, headers, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.URLID,
		float64(rec.Time.UnixNano())/1e9,
		float64(rec.Duration.Microseconds())/1000.0,
		kind, httpCode, epoch, headersText, rec.Data,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func encodeHeaders(h http.Header) string {
	out := ""
	for k, vs := range h {
		for _, v := range vs {
			out += k + ": " + v + "\n"
		}
	}
	return out
}

// LatestStatus returns the status tag of the most recent Request for urlID,
// or (Status{}, false) if none exist.
func LatestStatus(ctx context.Context, db *sql.DB, urlID int64) (Status, bool, error) {
	row := db.QueryRowContext(ctx, `
		SELECT status_kind, status_http, status_epoch
		FROM request WHERE url_id = ? ORDER BY time DESC LIMIT 1`, urlID)

	var kind string
	var httpCode sql.NullInt64
	var epoch sql.NullFloat64
	if err := row.Scan(&kind, &httpCode, &epoch); err != nil {
		if err == sql.ErrNoRows {
			return Status{}, false, nil
		}
		return Status{}, false, err
	}

	switch StatusKind(kind) {
	case StatusKindHTTP:
		return HTTP(int(httpCode.Int64)), true, nil
	case StatusKindRateLimited:
		return RateLimitedUntil(epoch.Float64), true, nil
	case StatusKindTimeout:
		return Timeout(), true, nil
	case StatusKindProhibited:
		return Prohibited(), true, nil
	default:
		return Failed(), true, nil
	}
}

// Stats aggregates across all Requests for the progress display.
type Stats struct {
	AvgDuration      time.Duration
	RequestsPerSec   float64
	OKCount          int
	FailedCount      int
	TimeoutCount     int
	ProhibitedCount  int
}

func ComputeStats(ctx context.Context, db *sql.DB, elapsed time.Duration) (Stats, error) {
	rows, err := db.QueryContext(ctx, `SELECT status_kind, status_http, duration_ms FROM request`)
	if err != nil {
		return Stats{}, err
	}
	defer rows.Close()

	var s Stats
	var totalDuration float64
	var count int
	for rows.Next() {
		var kind string
		var httpCode sql.NullInt64
		var durMs sql.NullFloat64
		if err := rows.Scan(&kind, &httpCode, &durMs); err != nil {
			return Stats{}, err
		}
		count++
		totalDuration += durMs.Float64
		switch StatusKind(kind) {
		case StatusKindHTTP:
			if httpCode.Valid && httpCode.Int64 >= 200 && httpCode.Int64 < 300 {
				s.OKCount++
			}
		case StatusKindFailed:
			s.FailedCount++
		case StatusKindTimeout:
			s.TimeoutCount++
		case StatusKindProhibited:
			s.ProhibitedCount++
		}
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}
	if count > 0 {
		s.AvgDuration = time.Duration(totalDuration/float64(count)) * time.Millisecond
	}
	if elapsed > 0 {
		s.RequestsPerSec = float64(count) / elapsed.Seconds()
	}
	return s, nil
}
