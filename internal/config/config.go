package config

import (
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for ingest.
type Config struct {
	BaseDir     string            `toml:"base_dir"`
	LogDir      string            `toml:"log_dir"`
	LogLevel    string            `toml:"log_level"` // debug, info, warn or error
	OutputDir   string            `toml:"output_dir"`
	ScratchDir  string            `toml:"scratch_dir"`
	MetricsFile string            `toml:"metrics_file,omitempty"` // Prometheus textfile written after each run
	ObjectStore ObjectStoreConfig `toml:"object_store"`
	Database    DatabaseConfig    `toml:"database"`
	Extractor   ExtractorConfig   `toml:"extractor"`
	Scheduler   SchedulerConfig   `toml:"scheduler"`
	Fetch       FetchConfig       `toml:"fetch"`
}

// ObjectStoreConfig represents configuration for the bucket holding client archives.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type ObjectStoreConfig struct {
	Type   string `toml:"type"` // "s3", "minio", "filesystem" or "memory"
	Bucket string `toml:"bucket,omitempty"`

	// S3 and MinIO fields
	Region          string `toml:"region,omitempty"`
	Endpoint        string `toml:"endpoint,omitempty"` // required for minio, optional for s3
	AccessKeyID     string `toml:"access_key_id,omitempty"`
	SecretAccessKey string `toml:"secret_access_key,omitempty"`
	UseSSL          bool   `toml:"use_ssl,omitempty"` // minio only
	MaxAttempts     int    `toml:"max_attempts,omitempty"`
	MaxConns        int    `toml:"max_conns,omitempty"`

	// FileSystem-specific fields (only used when Type == "filesystem")
	Root string `toml:"root,omitempty"`
}

// DatabaseConfig represents configuration for the progress store.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type string `toml:"type"` // "postgres", "sqlite" or "memory"

	// PostgreSQL fields
	Host     string `toml:"host,omitempty"`
	Port     int    `toml:"port,omitempty"`
	User     string `toml:"user,omitempty"`
	Password string `toml:"password,omitempty"`
	Name     string `toml:"name,omitempty"`
	SSLMode  string `toml:"sslmode,omitempty"`
	MaxConns int32  `toml:"max_conns,omitempty"`

	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// URL returns the postgres:// connection URL for the PostgreSQL fields.
func (d DatabaseConfig) URL() string {
	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Name,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else if d.User != "" {
		u.User = url.User(d.User)
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{d.SSLMode}}.Encode()
	}
	return u.String()
}

// ExtractorConfig selects the text extraction backend.
type ExtractorConfig struct {
	Type      string   `toml:"type"`                // "tesseract" or "text"
	Languages []string `toml:"languages,omitempty"` // tesseract language codes
}

// SchedulerConfig controls discovery and dispatch.
type SchedulerConfig struct {
	Workers        int      `toml:"workers"`
	Categories     []string `toml:"categories"`
	Subtypes       []string `toml:"subtypes"`
	ArchiveSuffix  string   `toml:"archive_suffix"`
	ArchiveTimeout Duration `toml:"archive_timeout,omitempty"` // zero means no limit
	ClaimLease     Duration `toml:"claim_lease,omitempty"`     // zero means six hours
	Ignore         []string `toml:"ignore"`                    // archive members skipped by the extractor
}

// FetchConfig controls download retries.
type FetchConfig struct {
	Attempts  int      `toml:"attempts"`
	BaseDelay Duration `toml:"base_delay"`
	MaxDelay  Duration `toml:"max_delay"`
}

// Duration is a time.Duration written as a string such as "2s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// NewConfig creates a Config rooted at baseDir with default settings:
// a local SQLite progress store, a filesystem object store and the
// tesseract extractor for Portuguese and English.
func NewConfig(baseDir string) *Config {
	return &Config{
		BaseDir:    baseDir,
		LogDir:     filepath.Join(baseDir, "log"),
		LogLevel:   "info",
		OutputDir:  filepath.Join(baseDir, "output"),
		ScratchDir: filepath.Join(baseDir, "scratch"),
		ObjectStore: ObjectStoreConfig{
			Type: "filesystem",
			Root: filepath.Join(baseDir, "bucket"),
		},
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(baseDir, "db"),
		},
		Extractor: ExtractorConfig{
			Type:      "tesseract",
			Languages: []string{"por", "eng"},
		},
		Scheduler: SchedulerConfig{
			Workers:       1,
			Categories:    []string{"2", "3", "4"},
			Subtypes:      []string{"manual", "ocr"},
			ArchiveSuffix: ".zip",
			Ignore:        []string{"__MACOSX", ".DS_Store", "Thumbs.db", "desktop.ini"},
		},
		Fetch: FetchConfig{
			Attempts:  3,
			BaseDelay: Duration{2 * time.Second},
			MaxDelay:  Duration{30 * time.Second},
		},
	}
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader over the defaults of
// NewConfig. The defaults are rooted at the file's base_dir when it sets one,
// else at baseDir. Sections and keys missing from the file keep their defaults.
func (m *Manager) Read(r io.Reader, baseDir string) (*Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var root struct {
		BaseDir string `toml:"base_dir"`
	}
	if _, err := toml.Decode(string(data), &root); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if root.BaseDir != "" {
		baseDir = root.BaseDir
	}

	cfg := NewConfig(baseDir)
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path.
// baseDir roots the defaults for anything the file leaves out.
func ReadFromFile(path, baseDir string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f, baseDir)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	return cfg, nil
}

// writeToFile writes a Config to the specified file path.
func writeToFile(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// 0600: the file may carry database and bucket credentials
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init initializes a new config file at the specified path with the provided Config.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}

// Masked returns a copy of cfg with secrets replaced, for display.
func Masked(cfg *Config) *Config {
	c := *cfg
	if c.Database.Password != "" {
		c.Database.Password = "********"
	}
	if c.ObjectStore.SecretAccessKey != "" {
		c.ObjectStore.SecretAccessKey = "********"
	}
	return &c
}
