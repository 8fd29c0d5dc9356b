package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds every tunable of the crawl/index/query/serve pipeline. It is
// built through the fluent With* setters terminated by Build(), or loaded
// from a JSON file via WithConfigFile.
type Config struct {
	//===============
	//  Crawl scope
	//===============
	seedURLs []string

	//===============
	// Concurrency / politeness
	//===============
	// Number of crawl worker goroutines the controller starts.
	workers int
	// Default token bucket parameters, exposed through DefaultRefillCap and
	// DefaultRefillRate. The host policy store does not read them; it uses
	// its own hostpolicy.DefaultRefillCap/DefaultRefillRate constants.
	defaultRefillCap  int
	defaultRefillRate float64

	//===============
	// Fetch
	//===============
	fetchTimeout time.Duration
	userAgent    string

	//===============
	// Storage
	//===============
	crawlDBPath string
	hostsDBPath string
	indexDBPath string

	//===============
	// Relevance / dedup
	//===============
	relevanceThreshold float64
	simhashThreshold   int
	shingleSize         int

	//===============
	// Ranking
	//===============
	bm25K1                float64
	bm25B                 float64
	topK                  int
	truncateMax           int
	enrichInputMax        int
	enrichBudget          int
	synonymsPerToken      int
	hardTruncateThreshold int
	titleBoost            float64

	//===============
	// Serve
	//===============
	listenAddr string

	// randomSeed drives jitter in retry backoff (SQLITE_BUSY retries), not
	// crawl politeness delay, since politeness is now a persisted token
	// bucket rather than an in-process sleep.
	randomSeed int64
}

type configDTO struct {
	SeedURLs              []string `json:"seedUrls"`
	Workers               int      `json:"workers,omitempty"`
	DefaultRefillCap      int      `json:"defaultRefillCap,omitempty"`
	DefaultRefillRate     float64  `json:"defaultRefillRate,omitempty"`
	FetchTimeoutMs        int64    `json:"fetchTimeoutMs,omitempty"`
	UserAgent             string   `json:"userAgent,omitempty"`
	CrawlDBPath           string   `json:"crawlDbPath,omitempty"`
	HostsDBPath           string   `json:"hostsDbPath,omitempty"`
	IndexDBPath           string   `json:"indexDbPath,omitempty"`
	RelevanceThreshold    float64  `json:"relevanceThreshold,omitempty"`
	SimhashThreshold      int      `json:"simhashThreshold,omitempty"`
	ShingleSize           int      `json:"shingleSize,omitempty"`
	BM25K1                float64  `json:"bm25K1,omitempty"`
	BM25B                 float64  `json:"bm25B,omitempty"`
	TopK                  int      `json:"topK,omitempty"`
	TruncateMax           int      `json:"truncateMax,omitempty"`
	EnrichInputMax        int      `json:"enrichInputMax,omitempty"`
	EnrichBudget          int      `json:"enrichBudget,omitempty"`
	SynonymsPerToken      int      `json:"synonymsPerToken,omitempty"`
	HardTruncateThreshold int      `json:"hardTruncateThreshold,omitempty"`
	TitleBoost            float64  `json:"titleBoost,omitempty"`
	ListenAddr            string   `json:"listenAddr,omitempty"`
	RandomSeed            int64    `json:"randomSeed,omitempty"`
}

func newConfigFromDTO(dto configDTO) (Config, error) {
	cfg, err := WithDefault(dto.SeedURLs).Build()
	if err != nil {
		return Config{}, err
	}

	if dto.Workers != 0 {
		cfg.workers = dto.Workers
	}
	if dto.DefaultRefillCap != 0 {
		cfg.defaultRefillCap = dto.DefaultRefillCap
	}
	if dto.DefaultRefillRate != 0 {
		cfg.defaultRefillRate = dto.DefaultRefillRate
	}
	if dto.FetchTimeoutMs != 0 {
		cfg.fetchTimeout = time.Duration(dto.FetchTimeoutMs) * time.Millisecond
	}
	if dto.UserAgent != "" {
		cfg.userAgent = dto.UserAgent
	}
	if dto.CrawlDBPath != "" {
		cfg.crawlDBPath = dto.CrawlDBPath
	}
	if dto.HostsDBPath != "" {
		cfg.hostsDBPath = dto.HostsDBPath
	}
	if dto.IndexDBPath != "" {
		cfg.indexDBPath = dto.IndexDBPath
	}
	if dto.RelevanceThreshold != 0 {
		cfg.relevanceThreshold = dto.RelevanceThreshold
	}
	if dto.SimhashThreshold != 0 {
		cfg.simhashThreshold = dto.SimhashThreshold
	}
	if dto.ShingleSize != 0 {
		cfg.shingleSize = dto.ShingleSize
	}
	if dto.BM25K1 != 0 {
		cfg.bm25K1 = dto.BM25K1
	}
	if dto.BM25B != 0 {
		cfg.bm25B = dto.BM25B
	}
	if dto.TopK != 0 {
		cfg.topK = dto.TopK
	}
	if dto.TruncateMax != 0 {
		cfg.truncateMax = dto.TruncateMax
	}
	if dto.EnrichInputMax != 0 {
		cfg.enrichInputMax = dto.EnrichInputMax
	}
	if dto.EnrichBudget != 0 {
		cfg.enrichBudget = dto.EnrichBudget
	}
	if dto.SynonymsPerToken != 0 {
		cfg.synonymsPerToken = dto.SynonymsPerToken
	}
	if dto.HardTruncateThreshold != 0 {
		cfg.hardTruncateThreshold = dto.HardTruncateThreshold
	}
	if dto.TitleBoost != 0 {
		cfg.titleBoost = dto.TitleBoost
	}
	if dto.ListenAddr != "" {
		cfg.listenAddr = dto.ListenAddr
	}
	if dto.RandomSeed != 0 {
		cfg.randomSeed = dto.RandomSeed
	}

	return cfg, nil
}

func WithConfigFile(path string) (Config, error) {
	_, err := os.Stat(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrFileDoesNotExist, err.Error())
	}
	configContent, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrReadConfigFail, err.Error())
	}
	cfgDTO := configDTO{}

	if err := json.Unmarshal(configContent, &cfgDTO); err != nil {
		return Config{}, fmt.Errorf("%w: %s", ErrConfigParsingFail, err.Error())
	}

	return newConfigFromDTO(cfgDTO)
}

// WithDefault creates a new Config with the provided seed URLs and default
// values for all other fields. seedUrls is mandatory and must not be empty
// — Build will return an error if it is.
func WithDefault(seedUrls []string) *Config {
	return &Config{
		seedURLs: seedUrls,

		workers:           8,
		defaultRefillCap:  60,
		defaultRefillRate: 2.0,

		fetchTimeout: 3 * time.Second,
		userAgent:    "tuebingen-search/1.0",

		crawlDBPath: "crawl.db",
		hostsDBPath: "hosts.db",
		indexDBPath: "index.db",

		relevanceThreshold: 0.01,
		simhashThreshold:   15,
		shingleSize:        5,

		bm25K1:                1.5,
		bm25B:                 0.75,
		topK:                  12,
		truncateMax:           20,
		enrichInputMax:        30,
		enrichBudget:          15,
		synonymsPerToken:      3,
		hardTruncateThreshold: 50,
		titleBoost:            1.5,

		listenAddr: ":8080",
		randomSeed: time.Now().UnixNano(),
	}
}

func (c *Config) WithSeedUrls(urls []string) *Config {
	c.seedURLs = urls
	return c
}

func (c *Config) WithWorkers(n int) *Config {
	c.workers = n
	return c
}

func (c *Config) WithDefaultRefill(cap int, rate float64) *Config {
	c.defaultRefillCap = cap
	c.defaultRefillRate = rate
	return c
}

func (c *Config) WithFetchTimeout(d time.Duration) *Config {
	c.fetchTimeout = d
	return c
}

func (c *Config) WithUserAgent(agent string) *Config {
	c.userAgent = agent
	return c
}

func (c *Config) WithCrawlDBPath(path string) *Config {
	c.crawlDBPath = path
	return c
}

func (c *Config) WithHostsDBPath(path string) *Config {
	c.hostsDBPath = path
	return c
}

func (c *Config) WithIndexDBPath(path string) *Config {
	c.indexDBPath = path
	return c
}

func (c *Config) WithRelevanceThreshold(threshold float64) *Config {
	c.relevanceThreshold = threshold
	return c
}

func (c *Config) WithSimhashThreshold(bits int) *Config {
	c.simhashThreshold = bits
	return c
}

func (c *Config) WithShingleSize(n int) *Config {
	c.shingleSize = n
	return c
}

func (c *Config) WithBM25Params(k1, b float64) *Config {
	c.bm25K1 = k1
	c.bm25B = b
	return c
}

func (c *Config) WithTopK(k int) *Config {
	c.topK = k
	return c
}

func (c *Config) WithTruncateMax(n int) *Config {
	c.truncateMax = n
	return c
}

func (c *Config) WithEnrichInputMax(n int) *Config {
	c.enrichInputMax = n
	return c
}

func (c *Config) WithEnrichBudget(n int) *Config {
	c.enrichBudget = n
	return c
}

func (c *Config) WithSynonymsPerToken(n int) *Config {
	c.synonymsPerToken = n
	return c
}

func (c *Config) WithHardTruncateThreshold(n int) *Config {
	c.hardTruncateThreshold = n
	return c
}

func (c *Config) WithTitleBoost(boost float64) *Config {
	c.titleBoost = boost
	return c
}

func (c *Config) WithListenAddr(addr string) *Config {
	c.listenAddr = addr
	return c
}

func (c *Config) WithRandomSeed(seed int64) *Config {
	c.randomSeed = seed
	return c
}

func (c *Config) Build() (Config, error) {
	if len(c.seedURLs) == 0 {
		return Config{}, fmt.Errorf("%w: seedUrls cannot be empty", ErrInvalidConfig)
	}
	if c.workers < 1 {
		return Config{}, fmt.Errorf("%w: workers must be >= 1", ErrInvalidConfig)
	}
	return *c, nil
}

func (c Config) SeedURLs() []string {
	urls := make([]string, len(c.seedURLs))
	copy(urls, c.seedURLs)
	return urls
}

func (c Config) Workers() int                    { return c.workers }
func (c Config) DefaultRefillCap() int            { return c.defaultRefillCap }
func (c Config) DefaultRefillRate() float64       { return c.defaultRefillRate }
func (c Config) FetchTimeout() time.Duration      { return c.fetchTimeout }
func (c Config) UserAgent() string                { return c.userAgent }
func (c Config) CrawlDBPath() string              { return c.crawlDBPath }
func (c Config) HostsDBPath() string              { return c.hostsDBPath }
func (c Config) IndexDBPath() string              { return c.indexDBPath }
func (c Config) RelevanceThreshold() float64      { return c.relevanceThreshold }
func (c Config) SimhashThreshold() int            { return c.simhashThreshold }
func (c Config) ShingleSize() int                 { return c.shingleSize }
func (c Config) BM25K1() float64                  { return c.bm25K1 }
func (c Config) BM25B() float64                   { return c.bm25B }
func (c Config) TopK() int                        { return c.topK }
func (c Config) TruncateMax() int                 { return c.truncateMax }
func (c Config) EnrichInputMax() int              { return c.enrichInputMax }
func (c Config) EnrichBudget() int                { return c.enrichBudget }
func (c Config) SynonymsPerToken() int            { return c.synonymsPerToken }
func (c Config) HardTruncateThreshold() int       { return c.hardTruncateThreshold }
func (c Config) TitleBoost() float64              { return c.titleBoost }
func (c Config) ListenAddr() string               { return c.listenAddr }
func (c Config) RandomSeed() int64                { return c.randomSeed }
