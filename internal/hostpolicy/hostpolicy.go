// Package hostpolicy persists, per origin, the robots.txt-derived crawl
// policy and a token-bucket rate limiter, and enforces the atomic
// single-token-consumption contract the concurrent crawl depends on — C5.
package hostpolicy

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/temoto/robotstxt"
)

const (
	DefaultRefillCap  = 60
	DefaultRefillRate = 2.0
)

// Decision is the outcome of TryTakeToken.
type Decision struct {
	Allowed      bool
	RetryAfter   time.Duration // valid only when !Allowed && !Prohibited
	Prohibited   bool          // permanent deny: robots or global policy
}

// Policy is the in-memory view of a Host record.
type Policy struct {
	Origin       string
	GlobalPolicy *bool // nil = consult robots
	robots       *robotstxt.RobotsData
	rawRobotsText string
	RefillRate   float64
	RefillCap    float64
	Updated      float64
	Tokens       float64
}

type Store struct {
	db        *sql.DB
	client    *http.Client
	userAgent string
}

func NewStore(db *sql.DB, userAgent string) *Store {
	return &Store{db: db, client: &http.Client{Timeout: 5 * time.Second}, userAgent: userAgent}
}

var requestRatePattern = regexp.MustCompile(`(?im)^\s*request-rate:\s*(\d+)\s*/\s*(\d+)`)
var crawlDelayPattern = regexp.MustCompile(`(?im)^\s*crawl-delay:\s*([0-9.]+)`)

// Fetch downloads <origin>/robots.txt and derives the policy per spec: 401/403
// and unresolved 3xx and 5xx/network failure deny all; other 4xx allow all;
// success keeps parsed rules and reads Request-rate / Crawl-delay.
func (s *Store) Fetch(ctx context.Context, origin string) (Policy, error) {
	p := Policy{Origin: origin}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, origin+"/robots.txt", nil)
	if err != nil {
		return denyAll(p), nil
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return denyAll(p), nil
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return denyAll(p), nil
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		return denyAll(p), nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return allowAll(p), nil
	case resp.StatusCode >= 500:
		return denyAll(p), nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return denyAll(p), nil
	}

	robots, err := robotstxt.FromBytes(body)
	if err != nil {
		return denyAll(p), nil
	}
	p.robots = robots
	p.rawRobotsText = string(body)

	if m := requestRatePattern.FindSubmatch(body); m != nil {
		requests, _ := strconv.ParseFloat(string(m[1]), 64)
		seconds, _ := strconv.ParseFloat(string(m[2]), 64)
		if requests > 0 && seconds > 0 {
			p.RefillCap = requests
			p.RefillRate = requests / seconds
		}
	}
	if p.RefillCap == 0 {
		if m := crawlDelayPattern.FindSubmatch(body); m != nil {
			if delay, err := strconv.ParseFloat(string(m[1]), 64); err == nil && delay > 0 {
				p.RefillCap = 1
				p.RefillRate = 1 / delay
			}
		}
	}
	if p.RefillCap == 0 {
		p.RefillCap = DefaultRefillCap
		p.RefillRate = DefaultRefillRate
	}
	p.Tokens = p.RefillCap
	p.Updated = float64(time.Now().UnixNano()) / 1e9
	return p, nil
}

func denyAll(p Policy) Policy {
	f := false
	p.GlobalPolicy = &f
	p.RefillCap = DefaultRefillCap
	p.RefillRate = DefaultRefillRate
	p.Tokens = DefaultRefillCap
	p.Updated = float64(time.Now().UnixNano()) / 1e9
	return p
}

func allowAll(p Policy) Policy {
	t := true
	p.GlobalPolicy = &t
	p.RefillCap = DefaultRefillCap
	p.RefillRate = DefaultRefillRate
	p.Tokens = DefaultRefillCap
	p.Updated = float64(time.Now().UnixNano()) / 1e9
	return p
}

// Store persists a freshly-fetched Policy, replacing any prior record.
func (s *Store) Store(ctx context.Context, p Policy) error {
	var robotsText sql.NullString
	if p.rawRobotsText != "" {
		robotsText = sql.NullString{String: p.rawRobotsText, Valid: true}
	}
	var globalPolicy sql.NullBool
	if p.GlobalPolicy != nil {
		globalPolicy = sql.NullBool{Bool: *p.GlobalPolicy, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO host (origin, global_policy, robots_txt, refill_rate, refill_cap, updated, tokens)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(origin) DO UPDATE SET
			global_policy = excluded.global_policy,
			robots_txt = excluded.robots_txt,
			refill_rate = excluded.refill_rate,
			refill_cap = excluded.refill_cap,
			updated = excluded.updated,
			tokens = excluded.tokens`,
		p.Origin, globalPolicy, robotsText, p.RefillRate, p.RefillCap, p.Updated, p.Tokens,
	)
	return err
}

// Load restores a persisted record, or (Policy{}, false) if none exists.
// When global_policy is null, robots rules are re-parsed from the stored
// robots_txt text so TryTakeToken can evaluate Allow/Disallow again.
func (s *Store) Load(ctx context.Context, origin string) (Policy, bool, error) {
	var globalPolicy sql.NullBool
	var robotsText sql.NullString
	p := Policy{Origin: origin}
	row := s.db.QueryRowContext(ctx, `
		SELECT global_policy, robots_txt, refill_rate, refill_cap, updated, tokens
		FROM host WHERE origin = ?`, origin)
	if err := row.Scan(&globalPolicy, &robotsText, &p.RefillRate, &p.RefillCap, &p.Updated, &p.Tokens); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Policy{}, false, nil
		}
		return Policy{}, false, err
	}
	if globalPolicy.Valid {
		p.GlobalPolicy = &globalPolicy.Bool
	} else if robotsText.Valid && robotsText.String != "" {
		if robots, err := robotstxt.FromBytes([]byte(robotsText.String)); err == nil {
			p.robots = robots
		}
	}
	return p, true, nil
}

// TryTakeToken implements the atomic token-bucket consumption contract.
// It checks robots/global policy first (free), then issues a single UPDATE
// guarded by the CHECK(tokens BETWEEN 0 AND refill_cap) constraint: if the
// update would drive tokens negative, SQLite rejects it and the bucket is
// empty.
func (s *Store) TryTakeToken(ctx context.Context, p Policy, rawURLPath, userAgent string) (Decision, error) {
	if p.GlobalPolicy != nil && !*p.GlobalPolicy {
		return Decision{Prohibited: true}, nil
	}
	if p.GlobalPolicy == nil && p.robots != nil {
		if !p.robots.TestAgent(rawURLPath, userAgent) {
			return Decision{Prohibited: true}, nil
		}
	}

	now := float64(time.Now().UnixNano()) / 1e9
	res, err := s.db.ExecContext(ctx, `
		UPDATE host
		SET tokens = MIN(tokens + ((? - updated) * refill_rate), refill_cap) - 1,
		    updated = ?
		WHERE origin = ?`, now, now, p.Origin)
	if err != nil {
		if isCheckViolation(err) {
			needed := (1 - p.Tokens) / p.RefillRate
			waited := now - p.Updated
			remaining := needed - waited
			if remaining < 0 {
				remaining = 0
			}
			return Decision{Allowed: false, RetryAfter: time.Duration(remaining * float64(time.Second))}, nil
		}
		return Decision{}, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Decision{}, errors.New("hostpolicy: no host record for origin")
	}
	return Decision{Allowed: true}, nil
}

func isCheckViolation(err error) bool {
	// modernc.org/sqlite surfaces CHECK constraint failures with this
	// substring in the error text; there is no typed sentinel exported.
	return err != nil && regexp.MustCompile(`(?i)constraint`).MatchString(err.Error())
}
