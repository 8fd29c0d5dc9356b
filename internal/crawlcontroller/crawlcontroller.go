// Package crawlcontroller is the sole control-plane authority of the
// crawl — C8. It owns the crawl DB, the hosts DB, and the Frontier; no
// other component decides what gets fetched next or whether a URL is
// admissible. A fixed pool of worker goroutines performs the actual I/O
// (robots fetch, page fetch, parse, link extraction) and reports back over
// a shared results channel; the owner is the only goroutine that mutates
// the frontier or the hosts DB.
package crawlcontroller

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/arkinul/tuebingen-search/internal/document"
	"github.com/arkinul/tuebingen-search/internal/frontier"
	"github.com/arkinul/tuebingen-search/internal/hostpolicy"
	"github.com/arkinul/tuebingen-search/internal/request"
	"github.com/arkinul/tuebingen-search/internal/telemetry"
	"github.com/arkinul/tuebingen-search/pkg/urlutil"
)

// Job is a unit of work dispatched from the owner to a worker.
type Job interface{ isJob() }

type fetchRobotsJob struct {
	urlID  int64
	url    string
	origin string
}

type fetchJob struct {
	urlID int64
	url   string
}

type parseDocumentJob struct {
	requestID       int64
	url             string
	contentLanguage string
	data            []byte
}

type extractLinksJob struct {
	parsed  document.Parsed
	baseURL string
}

type idleJob struct{ wait time.Duration }

func (fetchRobotsJob) isJob()    {}
func (fetchJob) isJob()          {}
func (parseDocumentJob) isJob()  {}
func (extractLinksJob) isJob()   {}
func (idleJob) isJob()           {}

// Result is a worker's report of a completed Job.
type Result interface{ isResult() }

type fetchRobotsResult struct {
	urlID  int64
	url    string
	origin string
	policy hostpolicy.Policy
}

type fetchResult struct {
	urlID int64
	rec   request.Record
}

type parseDocumentResult struct {
	requestID       int64
	url             string
	contentLanguage string
	parsed          document.Parsed
	ok              bool
}

type extractLinksResult struct {
	links []string
}

type idleResult struct{}

func (fetchRobotsResult) isResult()    {}
func (fetchResult) isResult()          {}
func (parseDocumentResult) isResult()  {}
func (extractLinksResult) isResult()   {}
func (idleResult) isResult()           {}

// Controller coordinates the crawl. Construct with New and run with Run.
type Controller struct {
	crawlDB   *sql.DB
	hostsDB   *sql.DB
	frontier  *frontier.Frontier
	hosts     *hostpolicy.Store
	fetcher   *request.Fetcher
	recorder  telemetry.Recorder
	userAgent string
	workers   int
	simhashThreshold int
}

func New(
	crawlDB, hostsDB *sql.DB,
	fr *frontier.Frontier,
	hosts *hostpolicy.Store,
	fetcher *request.Fetcher,
	recorder telemetry.Recorder,
	userAgent string,
	workers, simhashThreshold int,
) *Controller {
	if workers <= 0 {
		workers = 8
	}
	return &Controller{
		crawlDB: crawlDB, hostsDB: hostsDB, frontier: fr, hosts: hosts,
		fetcher: fetcher, recorder: recorder, userAgent: userAgent,
		workers: workers, simhashThreshold: simhashThreshold,
	}
}

// worker executes whatever Job it receives until jobs is closed.
func (c *Controller) worker(ctx context.Context, jobs <-chan Job, results chan<- Result) {
	for job := range jobs {
		res, err := c.execute(ctx, job)
		if err != nil {
			continue
		}
		results <- res
	}
}

// execute performs the I/O a Job describes and returns its Result. It never
// touches the frontier or the hosts DB directly — only handleResult, run by
// the owner, does that.
func (c *Controller) execute(ctx context.Context, job Job) (Result, error) {
	switch j := job.(type) {
	case fetchRobotsJob:
		p, err := c.hosts.Fetch(ctx, j.origin)
		if err != nil {
			return nil, err
		}
		return fetchRobotsResult{urlID: j.urlID, url: j.url, origin: j.origin, policy: p}, nil
	case fetchJob:
		rec := c.fetcher.Make(ctx, j.urlID, j.url)
		return fetchResult{urlID: j.urlID, rec: rec}, nil
	case parseDocumentJob:
		parsed, ok := document.Parse(j.url, j.data)
		return parseDocumentResult{requestID: j.requestID, url: j.url, contentLanguage: j.contentLanguage, parsed: parsed, ok: ok}, nil
	case extractLinksJob:
		return extractLinksResult{links: j.parsed.Links()}, nil
	case idleJob:
		select {
		case <-time.After(j.wait):
		case <-ctx.Done():
		}
		return idleResult{}, nil
	}
	return nil, errors.New("crawlcontroller: unknown job type")
}

// Step performs a single next_url()-dispatch-handle cycle synchronously, no
// worker pool involved — the unit of work `crawl-next` exposes. Returns
// ok=false once the frontier is empty and no future rate-limit epoch
// remains (crawl complete).
func (c *Controller) Step(ctx context.Context) (bool, error) {
	job, ok, err := c.nextJob(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	res, err := c.execute(ctx, job)
	if err != nil {
		return false, err
	}
	if _, err := c.handleResult(ctx, res); err != nil {
		return false, err
	}
	return true, nil
}

// Run drives the crawl to completion: all frontier work exhausted, and no
// rate-limited host left with a future retry epoch.
func (c *Controller) Run(ctx context.Context) error {
	start := time.Now()
	jobs := make(chan Job)
	results := make(chan Result)

	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.worker(ctx, jobs, results)
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	pending := 0
	fill := func() error {
		for pending < c.workers {
			job, ok, err := c.nextJob(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			jobs <- job
			pending++
		}
		return nil
	}

	if err := fill(); err != nil {
		close(jobs)
		for range results {
		}
		return err
	}
	if pending == 0 {
		close(jobs)
		for range results {
		}
		return nil
	}

	var runErr error
loop:
	for res := range results {
		pending--
		followUps, err := c.handleResult(ctx, res)
		if err != nil {
			runErr = err
			break loop
		}
		for _, job := range followUps {
			jobs <- job
			pending++
		}
		if err := fill(); err != nil {
			runErr = err
			break loop
		}
		if pending == 0 {
			break loop
		}
	}

	close(jobs)
	for range results {
	}
	c.recordCrawlSummary(ctx, start)
	return runErr
}

// recordCrawlSummary emits the terminal crawl_summary event. Stats errors
// are swallowed — a failure computing observability numbers must never mask
// the crawl's actual result.
func (c *Controller) recordCrawlSummary(ctx context.Context, start time.Time) {
	stats, err := request.ComputeStats(ctx, c.crawlDB, time.Since(start))
	if err != nil {
		return
	}
	totalErrors := stats.FailedCount + stats.TimeoutCount + stats.ProhibitedCount
	c.recorder.RecordCrawlSummary(stats.OKCount, totalErrors, time.Since(start))
}

// nextJob implements next_url(): pop the frontier, skip terminal/already-
// fetched/future-rate-limited URLs, then dispatch FetchRobots or Fetch
// depending on whether a host record exists. Falls back to requeuing
// past-due rate limits, then to an Idle wait for the earliest future
// epoch, then reports crawl completion (ok=false, err=nil).
func (c *Controller) nextJob(ctx context.Context) (Job, bool, error) {
	for attempts := 0; attempts < 10000; attempts++ {
		popped, ok, err := c.frontier.Pop(ctx)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return c.fallback(ctx)
		}

		status, found, err := request.LatestStatus(ctx, c.crawlDB, popped.URLID)
		if err != nil {
			return nil, false, err
		}
		if found {
			switch status.Kind() {
			case request.StatusKindProhibited, request.StatusKindTimeout, request.StatusKindFailed:
				continue
			case request.StatusKindHTTP:
				continue
			case request.StatusKindRateLimited:
				epoch, _ := status.RateLimitEpoch()
				if epoch > nowEpoch() {
					if err := c.frontier.PushID(ctx, popped.URLID); err != nil {
						return nil, false, err
					}
					continue
				}
			}
		}

		origin, err := urlutil.Origin(popped.URL)
		if err != nil {
			continue
		}

		policy, found, err := c.hosts.Load(ctx, origin)
		if err != nil {
			return nil, false, err
		}
		if !found {
			return fetchRobotsJob{urlID: popped.URLID, url: popped.URL, origin: origin}, true, nil
		}

		decision, err := c.hosts.TryTakeToken(ctx, policy, urlutil.PathOf(popped.URL), c.userAgent)
		if err != nil {
			return nil, false, err
		}
		switch {
		case decision.Prohibited:
			if _, err := request.Save(ctx, c.crawlDB, request.Record{
				URLID: popped.URLID, Time: time.Now(), Status: request.Prohibited(),
			}); err != nil {
				return nil, false, err
			}
			continue
		case decision.Allowed:
			return fetchJob{urlID: popped.URLID, url: popped.URL}, true, nil
		default:
			epoch := nowEpoch() + decision.RetryAfter.Seconds()
			if _, err := request.Save(ctx, c.crawlDB, request.Record{
				URLID: popped.URLID, Time: time.Now(), Status: request.RateLimitedUntil(epoch),
			}); err != nil {
				return nil, false, err
			}
			if err := c.frontier.PushID(ctx, popped.URLID); err != nil {
				return nil, false, err
			}
			continue
		}
	}
	return nil, false, errors.New("crawlcontroller: next_url did not converge")
}

// fallback runs when the frontier is empty: requeue URLs whose rate-limit
// epoch has already passed, else Idle until the earliest future epoch,
// else report crawl completion.
func (c *Controller) fallback(ctx context.Context) (Job, bool, error) {
	now := nowEpoch()

	rows, err := c.crawlDB.QueryContext(ctx, `
		SELECT r.url_id, r.status_epoch
		FROM request r
		JOIN (
			SELECT url_id, max(time) AS max_time FROM request GROUP BY url_id
		) latest ON latest.url_id = r.url_id AND latest.max_time = r.time
		WHERE r.status_kind = 'rate_limited'
		ORDER BY r.status_epoch ASC`)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var pastDue []int64
	var earliestFuture float64
	haveFuture := false
	for rows.Next() {
		var urlID int64
		var epoch float64
		if err := rows.Scan(&urlID, &epoch); err != nil {
			return nil, false, err
		}
		if epoch <= now {
			pastDue = append(pastDue, urlID)
		} else if !haveFuture || epoch < earliestFuture {
			earliestFuture = epoch
			haveFuture = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	if len(pastDue) > 0 {
		for _, urlID := range pastDue {
			if err := c.frontier.PushID(ctx, urlID); err != nil {
				return nil, false, err
			}
		}
		return c.nextJob(ctx)
	}
	if haveFuture {
		wait := time.Duration((earliestFuture - now) * float64(time.Second))
		if wait < 0 {
			wait = 0
		}
		return idleJob{wait: wait}, true, nil
	}
	return nil, false, nil
}

func nowEpoch() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// handleResult applies the owner-side state transition for a worker's
// Result and returns any follow-up Jobs to dispatch.
func (c *Controller) handleResult(ctx context.Context, res Result) ([]Job, error) {
	switch r := res.(type) {
	case fetchRobotsResult:
		if err := c.hosts.Store(ctx, r.policy); err != nil {
			return nil, err
		}
		decision, err := c.hosts.TryTakeToken(ctx, r.policy, urlutil.PathOf(r.url), c.userAgent)
		if err != nil {
			return nil, err
		}
		switch {
		case decision.Prohibited:
			_, err := request.Save(ctx, c.crawlDB, request.Record{
				URLID: r.urlID, Time: time.Now(), Status: request.Prohibited(),
			})
			return nil, err
		case decision.Allowed:
			return []Job{fetchJob{urlID: r.urlID, url: r.url}}, nil
		default:
			epoch := nowEpoch() + decision.RetryAfter.Seconds()
			if _, err := request.Save(ctx, c.crawlDB, request.Record{
				URLID: r.urlID, Time: time.Now(), Status: request.RateLimitedUntil(epoch),
			}); err != nil {
				return nil, err
			}
			return nil, c.frontier.PushID(ctx, r.urlID)
		}

	case fetchResult:
		requestID, err := request.Save(ctx, c.crawlDB, r.rec)
		if err != nil {
			return nil, err
		}
		urlRow := ""
		if err := c.crawlDB.QueryRowContext(ctx, `SELECT url FROM url WHERE id = ?`, r.urlID).Scan(&urlRow); err != nil {
			return nil, err
		}
		httpCode, _ := r.rec.Status.HTTPCode()
		c.recorder.RecordFetch(urlRow, httpCode, r.rec.Duration)
		if len(r.rec.Data) == 0 {
			return nil, nil
		}
		var contentLanguage string
		if r.rec.Headers != nil {
			contentLanguage = r.rec.Headers.Get("Content-Language")
		}
		return []Job{parseDocumentJob{requestID: requestID, url: urlRow, contentLanguage: contentLanguage, data: r.rec.Data}}, nil

	case parseDocumentResult:
		if !r.ok {
			c.recorder.RecordError("document", "Parse", telemetry.CauseContentInvalid, "parse failed",
				telemetry.NewAttr(telemetry.AttrURL, r.url))
			return nil, nil
		}
		if !r.parsed.IsRelevant(r.contentLanguage) {
			return nil, nil
		}
		dup, _, err := document.CheckForDuplicates(ctx, c.crawlDB, r.parsed.Fingerprint(), c.simhashThreshold)
		if err != nil {
			return nil, err
		}
		if dup {
			return nil, nil
		}
		if _, err := document.Save(ctx, c.crawlDB, r.requestID, r.parsed, r.contentLanguage); err != nil {
			return nil, err
		}
		return []Job{extractLinksJob{parsed: r.parsed, baseURL: r.url}}, nil

	case extractLinksResult:
		for _, link := range r.links {
			if err := c.frontier.PushIfNew(ctx, link); err != nil {
				return nil, err
			}
		}
		return nil, nil

	case idleResult:
		return nil, nil
	}
	return nil, nil
}
