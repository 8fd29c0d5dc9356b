// Package frontier is the persistent FIFO queue of URLs waiting to be
// crawled — C4. Positions are packed with no gaps; popping the head shifts
// everything else down by one in a single two-step UPDATE, since SQLite
// can't renumber a unique column in one statement without violating the
// uniqueness constraint mid-update.
package frontier

import (
	"context"
	"database/sql"
	"errors"

	"github.com/arkinul/tuebingen-search/pkg/urlutil"
)

// Frontier wraps the crawl DB's url/frontier_entry tables.
type Frontier struct {
	db *sql.DB
}

func New(db *sql.DB) *Frontier {
	return &Frontier{db: db}
}

// shift moves every frontier_entry with position >= pos back by amount.
// Negative amount shifts forward. Implemented as negate-then-abs because a
// direct "position = position + amount" update would collide with the
// UNIQUE(position) constraint mid-scan.
func shift(ctx context.Context, tx *sql.Tx, pos, amount int64) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE frontier_entry SET position = -(position + ?) WHERE position >= ?`,
		amount, pos,
	); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx,
		`UPDATE frontier_entry SET position = abs(position) WHERE position < 0`)
	return err
}

// upsertURL returns the id of url, inserting it into the url table if it
// isn't already there.
func upsertURL(ctx context.Context, tx *sql.Tx, rawURL string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM url WHERE url = ?`, rawURL).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO url (url) VALUES (?)`, rawURL)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// queuedPosition returns the frontier position of urlID, if queued.
func queuedPosition(ctx context.Context, tx *sql.Tx, urlID int64) (int64, bool, error) {
	var pos int64
	err := tx.QueryRowContext(ctx, `SELECT position FROM frontier_entry WHERE url_id = ?`, urlID).Scan(&pos)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return pos, true, nil
}

func appendAtEnd(ctx context.Context, tx *sql.Tx, urlID int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO frontier_entry (position, url_id)
		VALUES (IFNULL((SELECT max(position) + 1 FROM frontier_entry), 0), ?)`, urlID)
	return err
}

// Push normalizes rawURL, ensures it has a url row, and appends it to the
// end of the frontier. A no-op if the URL is already queued. Normalization
// happens here, at push time, so every FrontierEntry.url is canonical.
func (f *Frontier) Push(ctx context.Context, rawURL string) error {
	normalized, err := urlutil.Normalize(rawURL)
	if err != nil {
		return err
	}
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	urlID, err := upsertURL(ctx, tx, normalized)
	if err != nil {
		return err
	}
	if _, queued, err := queuedPosition(ctx, tx, urlID); err != nil {
		return err
	} else if queued {
		return tx.Commit()
	}
	if err := appendAtEnd(ctx, tx, urlID); err != nil {
		return err
	}
	return tx.Commit()
}

// PushIfNew pushes rawURL unless a Request already exists for it, i.e. it
// has already been fetched (or attempted) at least once. A url row with no
// Request yet — discovered but never dispatched — is still eligible, so
// this is a no-op only against ground actually covered by a fetch, not
// merely queued.
// Used by link discovery so already-visited pages aren't re-enqueued.
func (f *Frontier) PushIfNew(ctx context.Context, rawURL string) error {
	normalized, err := urlutil.Normalize(rawURL)
	if err != nil {
		return err
	}
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var urlID int64
	var found bool
	err = tx.QueryRowContext(ctx, `SELECT id FROM url WHERE url = ?`, normalized).Scan(&urlID)
	switch {
	case err == nil:
		found = true
	case errors.Is(err, sql.ErrNoRows):
		found = false
	default:
		return err
	}

	if found {
		var requested bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM request WHERE url_id = ?)`, urlID).Scan(&requested); err != nil {
			return err
		}
		if requested {
			return tx.Commit()
		}
		if _, queued, err := queuedPosition(ctx, tx, urlID); err != nil {
			return err
		} else if queued {
			return tx.Commit()
		}
		if err := appendAtEnd(ctx, tx, urlID); err != nil {
			return err
		}
		return tx.Commit()
	}

	urlID, err = upsertURL(ctx, tx, normalized)
	if err != nil {
		return err
	}
	if err := appendAtEnd(ctx, tx, urlID); err != nil {
		return err
	}
	return tx.Commit()
}

// PushID re-queues an already-known url id at the end of the frontier,
// e.g. when a rate-limited host's entry is requeued for a later attempt.
// A no-op if already queued.
func (f *Frontier) PushID(ctx context.Context, urlID int64) error {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, queued, err := queuedPosition(ctx, tx, urlID); err != nil {
		return err
	} else if queued {
		return tx.Commit()
	}
	if err := appendAtEnd(ctx, tx, urlID); err != nil {
		return err
	}
	return tx.Commit()
}

// Popped is the head-of-queue entry returned by Pop.
type Popped struct {
	URLID int64
	URL   string
}

// Pop removes and returns the lowest-position frontier entry, shifting
// every remaining entry down by one to keep positions gap-free. Returns
// ok=false if the frontier is empty.
func (f *Frontier) Pop(ctx context.Context) (Popped, bool, error) {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return Popped{}, false, err
	}
	defer tx.Rollback()

	var pos, urlID int64
	var rawURL string
	row := tx.QueryRowContext(ctx, `
		SELECT fe.position, fe.url_id, u.url
		FROM frontier_entry fe JOIN url u ON u.id = fe.url_id
		WHERE fe.position = (SELECT min(position) FROM frontier_entry)`)
	if err := row.Scan(&pos, &urlID, &rawURL); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Popped{}, false, tx.Commit()
		}
		return Popped{}, false, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM frontier_entry WHERE position = ?`, pos); err != nil {
		return Popped{}, false, err
	}
	if err := shift(ctx, tx, pos, -1); err != nil {
		return Popped{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return Popped{}, false, err
	}
	return Popped{URLID: urlID, URL: rawURL}, true, nil
}

// Len reports the number of entries currently queued.
func (f *Frontier) Len(ctx context.Context) (int, error) {
	var n int
	err := f.db.QueryRowContext(ctx, `SELECT count(*) FROM frontier_entry`).Scan(&n)
	return n, err
}
