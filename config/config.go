package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"rigflip/models"
	"rigflip/storage"
)

type Config struct {
	Dir         string
	Scheduler   SchedulerConfig
	Scan        ScanConfig
	Browser     BrowserConfig
	Pipeline    PipelineConfig
	Notify      NotifyConfig
	Proxy       ProxyConfig
	S3          storage.S3Config
	DBPath      string
	DatabaseURL string
	LogLevel    string
	LogPath     string
	MetricsAddr string
	Sites       map[string]*SiteConfig
	Searches    []models.SavedSearch
	Comps       CompsConfig
}

type SchedulerConfig struct {
	Interval         time.Duration
	Cron             string
	ArchiveCron      string
	ArchiveAfterDays int
}

type ScanConfig struct {
	MaxConcurrentTabs int
	JobTimeout        time.Duration
	// Gateway is "browser" or "http".
	Gateway          string
	IdleCommand      string
	IdleThreshold    time.Duration
	IdleCooldown     time.Duration
	NotifyOnComplete bool
}

type BrowserConfig struct {
	Headless    bool
	UserDataDir string
}

type PipelineConfig struct {
	AutoAdvance          bool
	Notifications        bool
	AutoAdvanceDelay     time.Duration
	PoorDealArchiveDelay time.Duration
	AutosaveInterval     time.Duration
	MetricsInterval      time.Duration
}

type NotifyConfig struct {
	WebhookURL string
}

type ProxyConfig struct {
	URL string
}

// SiteConfig describes how to read a marketplace's search result page.
type SiteConfig struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	BaseURL     string    `yaml:"base_url"`
	WaitFor     string    `yaml:"wait_for"`
	RateLimitMS int       `yaml:"rate_limit_ms"`
	Selectors   Selectors `yaml:"selectors"`
}

type Selectors struct {
	Card        string `yaml:"card"`
	Title       string `yaml:"title"`
	Price       string `yaml:"price"`
	Link        string `yaml:"link"`
	Location    string `yaml:"location"`
	Description string `yaml:"description"`
	Seller      string `yaml:"seller"`
}

type searchFile struct {
	Searches []models.SavedSearch `yaml:"searches"`
}

// CompsConfig is the market comparables table used for appraisal.
type CompsConfig struct {
	// BaseValue is what a working case, board, RAM and PSU are worth.
	BaseValue  float64     `yaml:"base_value"`
	CPUs       []CompEntry `yaml:"cpus"`
	GPUs       []CompEntry `yaml:"gpus"`
	Urgent     []string    `yaml:"urgent_keywords"`
	Bundle     []string    `yaml:"bundle_keywords"`
	RedFlags   []string    `yaml:"red_flag_keywords"`
	ResaleCost float64     `yaml:"resale_cost"`
}

type CompEntry struct {
	Model string  `yaml:"model"`
	Value float64 `yaml:"value"`
}

// Load reads .env and the YAML files under CONFIG_DIR (default "config").
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFrom(getEnv("CONFIG_DIR", "config"))
}

// LoadFrom builds the config from the environment and the YAML files in dir.
func LoadFrom(dir string) (*Config, error) {
	cfg := &Config{
		Dir: dir,
		Scheduler: SchedulerConfig{
			Cron:             os.Getenv("SCAN_CRON"),
			Interval:         getEnvDuration("SCAN_INTERVAL", 0),
			ArchiveCron:      getEnv("ARCHIVE_CRON", "@daily"),
			ArchiveAfterDays: getEnvInt("ARCHIVE_AFTER_DAYS", 90),
		},
		Scan: ScanConfig{
			MaxConcurrentTabs: getEnvInt("SCAN_MAX_TABS", 3),
			JobTimeout:        getEnvDuration("SCAN_JOB_TIMEOUT", 60*time.Second),
			Gateway:           getEnv("SCAN_GATEWAY", "browser"),
			IdleCommand:       os.Getenv("IDLE_COMMAND"),
			IdleThreshold:     getEnvDuration("IDLE_THRESHOLD", 60*time.Second),
			IdleCooldown:      getEnvDuration("IDLE_COOLDOWN", 30*time.Second),
			NotifyOnComplete:  getEnvBool("SCAN_NOTIFY", true),
		},
		Browser: BrowserConfig{
			Headless:    getEnvBool("BROWSER_HEADLESS", false),
			UserDataDir: getEnv("BROWSER_DATA_DIR", "browser_data"),
		},
		Pipeline: PipelineConfig{
			AutoAdvance:          getEnvBool("PIPELINE_AUTO_ADVANCE", true),
			Notifications:        getEnvBool("PIPELINE_NOTIFICATIONS", true),
			AutoAdvanceDelay:     getEnvDuration("PIPELINE_AUTO_ADVANCE_DELAY", 2*time.Second),
			PoorDealArchiveDelay: getEnvDuration("PIPELINE_POOR_ARCHIVE_DELAY", 5*time.Second),
			AutosaveInterval:     getEnvDuration("AUTOSAVE_INTERVAL", 5*time.Minute),
			MetricsInterval:      getEnvDuration("METRICS_INTERVAL", time.Minute),
		},
		Notify: NotifyConfig{
			WebhookURL: os.Getenv("NOTIFY_WEBHOOK_URL"),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		S3: storage.S3Config{
			Bucket:          os.Getenv("S3_BUCKET"),
			Region:          getEnv("S3_REGION", "us-east-1"),
			Endpoint:        os.Getenv("S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("S3_SECRET_ACCESS_KEY"),
			Prefix:          getEnv("S3_PREFIX", "rigflip"),
		},
		DBPath:      getEnv("DB_PATH", "rigflip.db"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogPath:     getEnv("LOG_PATH", "rigflip.log"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		Sites:       make(map[string]*SiteConfig),
	}

	if err := cfg.loadSiteConfigs(); err != nil {
		return nil, err
	}
	if err := cfg.loadSearches(); err != nil {
		return nil, err
	}
	if err := cfg.loadComps(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Scan.MaxConcurrentTabs < 1 {
		return fmt.Errorf("SCAN_MAX_TABS must be at least 1, got %d", c.Scan.MaxConcurrentTabs)
	}
	if c.Scan.JobTimeout <= 0 {
		return errors.New("SCAN_JOB_TIMEOUT must be positive")
	}
	if c.Scan.Gateway != "browser" && c.Scan.Gateway != "http" {
		return fmt.Errorf("SCAN_GATEWAY must be browser or http, got %q", c.Scan.Gateway)
	}
	for _, s := range c.Searches {
		if s.ID == "" || s.URL == "" {
			return fmt.Errorf("saved search %q needs an id and url", s.Name)
		}
		if _, ok := c.Sites[s.Site]; !ok {
			return fmt.Errorf("saved search %s references unknown site %q", s.ID, s.Site)
		}
	}
	return nil
}

// SavedSearches returns a copy of the configured searches.
func (c *Config) SavedSearches() []models.SavedSearch {
	return append([]models.SavedSearch(nil), c.Searches...)
}

func (c *Config) yamlFiles(sub string) ([]string, error) {
	dir := filepath.Join(c.Dir, sub)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var paths []string
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	return paths, nil
}

func (c *Config) loadSiteConfigs() error {
	paths, err := c.yamlFiles("sites")
	if err != nil {
		return err
	}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var site SiteConfig
		if err := yaml.Unmarshal(data, &site); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		if site.Selectors.Card == "" {
			return fmt.Errorf("site %s: selectors.card is required", site.ID)
		}
		c.Sites[site.ID] = &site
	}
	return nil
}

func (c *Config) loadSearches() error {
	paths, err := c.yamlFiles("searches")
	if err != nil {
		return err
	}
	seen := make(map[string]string)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var file searchFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, s := range file.Searches {
			if prev, ok := seen[s.ID]; ok {
				return fmt.Errorf("saved search %s defined in both %s and %s", s.ID, prev, path)
			}
			seen[s.ID] = path
			c.Searches = append(c.Searches, s)
		}
	}
	return nil
}

func (c *Config) loadComps() error {
	data, err := os.ReadFile(filepath.Join(c.Dir, "comps.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, &c.Comps); err != nil {
		return fmt.Errorf("parse comps.yaml: %w", err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
