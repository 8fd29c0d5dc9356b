// Package cmd is the CLI surface — C12's command-line half. Each
// subcommand is a thin adapter onto the crawl/index/query packages: it
// opens the stores the command needs, wires them together, and delegates.
package cmd

import (
	"bufio"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/arkinul/tuebingen-search/internal/config"
	"github.com/arkinul/tuebingen-search/internal/crawlcontroller"
	"github.com/arkinul/tuebingen-search/internal/frontier"
	"github.com/arkinul/tuebingen-search/internal/hostpolicy"
	"github.com/arkinul/tuebingen-search/internal/indexer"
	"github.com/arkinul/tuebingen-search/internal/ranker"
	"github.com/arkinul/tuebingen-search/internal/request"
	"github.com/arkinul/tuebingen-search/internal/storage"
	"github.com/arkinul/tuebingen-search/internal/telemetry"
	"github.com/arkinul/tuebingen-search/internal/textpipeline"
	"github.com/arkinul/tuebingen-search/internal/webui"
)

var (
	cfgFile   string
	dbPath    string
	hostsPath string
	sqlPath   string
	corpusDir string
	urlFlag   string
	urlsFile  string
	crawlPath string
	indexPath string
	indexSQL  string
	addr      string
	userAgent string
	workers   int
)

var rootCmd = &cobra.Command{
	Use:   "tuebingen-search",
	Short: "A focused crawler and search engine for the town of Tübingen.",
	Long: `tuebingen-search crawls a seeded region of the public web, keeps only
pages about Tübingen and its vicinity, builds a persistent inverted index,
and serves ranked results for free-text queries.`,
}

// Execute adds all child commands to the root command and runs it. Called
// once from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(seedURLs []string) (config.Config, error) {
	if cfgFile != "" {
		return config.WithConfigFile(cfgFile)
	}
	if len(seedURLs) == 0 {
		seedURLs = []string{"https://en.wikipedia.org/wiki/T%C3%BCbingen"}
	}
	return config.WithDefault(seedURLs).Build()
}

func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config-file", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&userAgent, "user-agent", "", "User-Agent string sent on every fetch")
	rootCmd.PersistentFlags().IntVar(&workers, "workers", 0, "number of crawl worker goroutines")

	initDBCmd.Flags().StringVar(&dbPath, "db", "", "path to the sqlite database to create")
	initDBCmd.Flags().StringVar(&sqlPath, "sql", "", "path to a .sql file to execute against the database")
	initDBCmd.MarkFlagRequired("db")
	initDBCmd.MarkFlagRequired("sql")

	downloadCorporaCmd.Flags().StringVar(&corpusDir, "path", "corpora", "directory local language resources are expected to live in")

	urlRequestCmd.Flags().StringVar(&urlFlag, "url", "", "URL to fetch once, without persisting")
	urlRequestCmd.MarkFlagRequired("url")

	loadURLsCmd.Flags().StringVar(&dbPath, "db", "", "path to the crawl database")
	loadURLsCmd.Flags().StringVar(&urlsFile, "urls", "", "file of seed URLs, one per line")
	loadURLsCmd.MarkFlagRequired("db")
	loadURLsCmd.MarkFlagRequired("urls")

	crawlNextCmd.Flags().StringVar(&dbPath, "db", "", "path to the crawl database")
	crawlNextCmd.Flags().StringVar(&hostsPath, "hosts_db", "hosts.db", "path to the hosts database")
	crawlNextCmd.MarkFlagRequired("db")

	crawlCmd.Flags().StringVar(&dbPath, "db", "", "path to the crawl database")
	crawlCmd.Flags().StringVar(&hostsPath, "hosts_db", "hosts.db", "path to the hosts database")
	crawlCmd.MarkFlagRequired("db")

	indexAllCmd.Flags().StringVar(&crawlPath, "crawl_db", "", "path to the crawl database")
	indexAllCmd.Flags().StringVar(&indexPath, "index_db", "", "path to the index database")
	indexAllCmd.Flags().StringVar(&indexSQL, "index_sql", "", "optional extra .sql file to execute against the index database before indexing")
	indexAllCmd.MarkFlagRequired("crawl_db")
	indexAllCmd.MarkFlagRequired("index_db")

	serveCmd.Flags().StringVar(&crawlPath, "crawl_db", "", "path to the crawl database (unused, accepted for symmetry with index-all)")
	serveCmd.Flags().StringVar(&indexPath, "index_db", "", "path to the index database")
	serveCmd.Flags().StringVar(&addr, "addr", ":8080", "address to listen on")
	serveCmd.MarkFlagRequired("index_db")

	rootCmd.AddCommand(initDBCmd, downloadCorporaCmd, urlRequestCmd, loadURLsCmd, crawlNextCmd, crawlCmd, indexAllCmd, serveCmd)
}

var initDBCmd = &cobra.Command{
	Use:   "init-db",
	Short: "Create a sqlite database and apply a schema file to it",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := sql.Open("sqlite", dbPath)
		if err != nil {
			return fmt.Errorf("open %s: %w", dbPath, err)
		}
		defer db.Close()

		schema, err := os.ReadFile(sqlPath)
		if err != nil {
			return fmt.Errorf("read %s: %w", sqlPath, err)
		}
		if _, err := db.ExecContext(ctx, string(schema)); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		fmt.Printf("initialized %s from %s\n", dbPath, sqlPath)
		return nil
	},
}

var downloadCorporaCmd = &cobra.Command{
	Use:   "download-corpora",
	Short: "Acknowledge the local language-resource directory",
	Long: `This build ships its own stemmer, stopword list, and synonym table
embedded in the binary, so there is nothing to download. This command exists
for CLI-surface parity and verifies the configured directory is usable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(corpusDir, 0o755); err != nil {
			return fmt.Errorf("prepare %s: %w", corpusDir, err)
		}
		fmt.Printf("no external corpora required; %s is ready for local overrides\n", corpusDir)
		return nil
	},
}

var urlRequestCmd = &cobra.Command{
	Use:   "url-request",
	Short: "Fetch a single URL and print the outcome, without persisting it",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		agent := resolveUserAgent(cfg)
		fetcher := request.NewFetcher(agent, cfg.FetchTimeout())

		rec := fetcher.Make(cmd.Context(), 0, urlFlag)
		status := rec.Status
		switch status.Kind() {
		case request.StatusKindHTTP:
			code, _ := status.HTTPCode()
			fmt.Printf("%s -> HTTP %d (%d bytes, %v)\n", urlFlag, code, len(rec.Data), rec.Duration)
		case request.StatusKindTimeout:
			fmt.Printf("%s -> TIMEOUT (%v)\n", urlFlag, rec.Duration)
		case request.StatusKindFailed:
			fmt.Printf("%s -> FAILED (%v)\n", urlFlag, rec.Duration)
		default:
			fmt.Printf("%s -> %v\n", urlFlag, status.Kind())
		}
		return nil
	},
}

var loadURLsCmd = &cobra.Command{
	Use:   "load-urls",
	Short: "Push every URL in a file onto the crawl frontier",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		store, err := storage.OpenCrawlStore(ctx, dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		f, err := os.Open(urlsFile)
		if err != nil {
			return fmt.Errorf("open %s: %w", urlsFile, err)
		}
		defer f.Close()

		fr := frontier.New(store.DB)
		scanner := bufio.NewScanner(f)
		count := 0
		for scanner.Scan() {
			line := scanner.Text()
			if line == "" {
				continue
			}
			if err := fr.Push(ctx, line); err != nil {
				return fmt.Errorf("push %s: %w", line, err)
			}
			count++
		}
		if err := scanner.Err(); err != nil {
			return err
		}
		fmt.Printf("loaded %d URLs into %s\n", count, dbPath)
		return nil
	},
}

func resolveUserAgent(cfg config.Config) string {
	if userAgent != "" {
		return userAgent
	}
	return cfg.UserAgent()
}

func resolveWorkers(cfg config.Config) int {
	if workers > 0 {
		return workers
	}
	return cfg.Workers()
}

func buildController(ctx context.Context, cfg config.Config) (*crawlcontroller.Controller, *storage.CrawlStore, *storage.HostsStore, error) {
	crawlStore, err := storage.OpenCrawlStore(ctx, dbPath)
	if err != nil {
		return nil, nil, nil, err
	}
	hostsStore, err := storage.OpenHostsStore(ctx, hostsPath)
	if err != nil {
		crawlStore.Close()
		return nil, nil, nil, err
	}

	agent := resolveUserAgent(cfg)
	fr := frontier.New(crawlStore.DB)
	hosts := hostpolicy.NewStore(hostsStore.DB, agent)
	fetcher := request.NewFetcher(agent, cfg.FetchTimeout())
	recorder := telemetry.New(os.Stdout)

	ctrl := crawlcontroller.New(crawlStore.DB, hostsStore.DB, fr, hosts, fetcher, recorder, agent,
		resolveWorkers(cfg), cfg.SimhashThreshold())
	return ctrl, crawlStore, hostsStore, nil
}

var crawlNextCmd = &cobra.Command{
	Use:   "crawl-next",
	Short: "Perform a single crawl step",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		ctx, cancel := interruptContext()
		defer cancel()

		ctrl, crawlStore, hostsStore, err := buildController(ctx, cfg)
		if err != nil {
			return err
		}
		defer crawlStore.Close()
		defer hostsStore.Close()

		didWork, err := ctrl.Step(ctx)
		if err != nil {
			return err
		}
		if !didWork {
			fmt.Println("frontier is empty; crawl complete")
			os.Exit(1)
		}
		return nil
	},
}

var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Run the crawl to completion",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}
		ctx, cancel := interruptContext()
		defer cancel()

		ctrl, crawlStore, hostsStore, err := buildController(ctx, cfg)
		if err != nil {
			return err
		}
		defer crawlStore.Close()
		defer hostsStore.Close()

		start := time.Now()
		done := make(chan error, 1)
		go func() { done <- ctrl.Run(ctx) }()

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case err := <-done:
				printStats(ctx, crawlStore.DB, start)
				return err
			case <-ticker.C:
				printStats(ctx, crawlStore.DB, start)
			}
		}
	},
}

func printStats(ctx context.Context, db *sql.DB, start time.Time) {
	stats, err := request.ComputeStats(ctx, db, time.Since(start))
	if err != nil {
		return
	}
	fmt.Printf("\r%.2f req/s  ok=%d failed=%d timed_out=%d prohibited=%d",
		stats.RequestsPerSec, stats.OKCount, stats.FailedCount, stats.TimeoutCount, stats.ProhibitedCount)
}

var indexAllCmd = &cobra.Command{
	Use:   "index-all",
	Short: "Index every crawled document not yet in the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		crawlStore, err := storage.OpenCrawlStore(ctx, crawlPath)
		if err != nil {
			return err
		}
		defer crawlStore.Close()

		indexStore, err := storage.OpenIndexStore(ctx, indexPath)
		if err != nil {
			return err
		}
		defer indexStore.Close()

		if indexSQL != "" {
			schema, err := os.ReadFile(indexSQL)
			if err != nil {
				return fmt.Errorf("read %s: %w", indexSQL, err)
			}
			if _, err := indexStore.DB.ExecContext(ctx, string(schema)); err != nil {
				return fmt.Errorf("apply extra index schema: %w", err)
			}
		}

		cfg, err := loadConfig(nil)
		if err != nil {
			return err
		}

		recorder := telemetry.New(os.Stdout)

		start := time.Now()
		n, err := indexer.IndexAll(ctx, crawlStore.DB, indexStore.DB, textpipeline.New(), cfg.RandomSeed(), recorder)
		if err != nil {
			return err
		}
		fmt.Printf("indexed %d new documents in %v\n", n, time.Since(start))
		return nil
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP search UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := interruptContext()
		defer cancel()

		indexStore, err := storage.OpenIndexStore(ctx, indexPath)
		if err != nil {
			return err
		}
		defer indexStore.Close()

		r := ranker.New(indexStore.DB, ranker.DefaultClassifier, ranker.DefaultSynonymLookup)
		recorder := telemetry.New(os.Stdout)
		server := webui.New(r, recorder)

		httpServer := &http.Server{Addr: addr, Handler: server.Handler()}
		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			httpServer.Shutdown(shutdownCtx)
		}()

		fmt.Printf("serving on %s\n", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	},
}
