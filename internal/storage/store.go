// Package storage opens and migrates the three SQLite-backed databases
// this system owns: the crawl DB (URL, FrontierEntry, Request, Document),
// the hosts DB (Host), and the index DB (IndexDocument, Word, Posting).
// Cross-DB references are by shared numeric id, never by foreign key.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/arkinul/tuebingen-search/pkg/fileutil"
)

// CrawlStore owns the crawl DB.
type CrawlStore struct {
	DB *sql.DB
}

// HostsStore owns the hosts DB.
type HostsStore struct {
	DB *sql.DB
}

// IndexStore owns the index DB.
type IndexStore struct {
	DB *sql.DB
}

func open(path string) (*sql.DB, error) {
	if err := fileutil.EnsureDir(dirOf(path)); err != nil {
		return nil, fmt.Errorf("prepare directory for %s: %w", path, err)
	}
	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// A single shared connection keeps the atomic host-bucket UPDATE and the
	// frontier shift-trick serialized through SQLite's own locking rather
	// than racing multiple Go-level connections against each other.
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", path, err)
	}
	return db, nil
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

// OpenCrawlStore opens (creating if absent) the crawl DB at path.
func OpenCrawlStore(ctx context.Context, path string) (*CrawlStore, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, crawlSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate crawl schema: %w", err)
	}
	return &CrawlStore{DB: db}, nil
}

// OpenHostsStore opens (creating if absent) the hosts DB at path.
func OpenHostsStore(ctx context.Context, path string) (*HostsStore, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, hostsSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate hosts schema: %w", err)
	}
	return &HostsStore{DB: db}, nil
}

// OpenIndexStore opens (creating if absent) the index DB at path.
func OpenIndexStore(ctx context.Context, path string) (*IndexStore, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, indexSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate index schema: %w", err)
	}
	return &IndexStore{DB: db}, nil
}

func (s *CrawlStore) Close() error  { return s.DB.Close() }
func (s *HostsStore) Close() error  { return s.DB.Close() }
func (s *IndexStore) Close() error  { return s.DB.Close() }
