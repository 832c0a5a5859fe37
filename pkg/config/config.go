package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
type Config struct {
	DataDir string        `yaml:"data_dir"`
	Log     LogConfig     `yaml:"log"`
	DB      DBConfig      `yaml:"db"`
	Tiles   TilesConfig   `yaml:"tiles"`
	Routes  RoutesConfig  `yaml:"routes"`
	Images  ImagesConfig  `yaml:"images"`
	Request RequestConfig `yaml:"request"`
	Seed    SeedConfig    `yaml:"seed"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Server   LogSettings `yaml:"server"`
	Requests LogSettings `yaml:"requests"`
	Trace    bool        `yaml:"trace"`
}

// LogSettings holds settings for a specific logger.
type LogSettings struct {
	Path  string `yaml:"path"`
	Level string `yaml:"level"`
}

// DBConfig holds database settings.
type DBConfig struct {
	Path string `yaml:"path"` // empty means <data_dir>/m4food.db3
}

// TilesConfig holds map tile cache settings.
type TilesConfig struct {
	Dir         string       `yaml:"dir"` // empty means <data_dir>/map_tiles
	BaseURL     string       `yaml:"base_url"`
	Extension   string       `yaml:"extension"`
	Timeout     Duration     `yaml:"timeout"`
	Throttle    Duration     `yaml:"throttle"`
	Concurrency int          `yaml:"concurrency"`
	MaxAge      Duration     `yaml:"max_age"`
	UserAgent   string       `yaml:"user_agent"`
	Prefetch    []AreaConfig `yaml:"prefetch"`
}

// AreaConfig describes an area whose tiles are downloaded at startup.
type AreaConfig struct {
	Name   string   `yaml:"name"`
	Lat    float64  `yaml:"lat"`
	Lon    float64  `yaml:"lon"`
	Zooms  []int    `yaml:"zooms"`
	Radius Distance `yaml:"radius"`
}

// RoutesConfig holds route cache settings.
type RoutesConfig struct {
	Retention Duration `yaml:"retention"`
}

// ImagesConfig holds image metadata cache settings.
type ImagesConfig struct {
	Retention Duration `yaml:"retention"`
}

// RequestConfig holds HTTP request settings.
type RequestConfig struct {
	Retries int           `yaml:"retries"`
	Backoff BackoffConfig `yaml:"backoff"`
}

// BackoffConfig holds exponential backoff settings.
type BackoffConfig struct {
	BaseDelay Duration `yaml:"base_delay"`
	MaxDelay  Duration `yaml:"max_delay"`
}

// SeedConfig points at files imported into the cache on startup.
type SeedConfig struct {
	StoresCSV string `yaml:"stores_csv"`
}

// Environment variables that override file settings.
const (
	EnvDataDir   = "M4CACHE_DATA_DIR"
	EnvTileURL   = "M4CACHE_TILE_URL"
	EnvUserAgent = "M4CACHE_USER_AGENT"
)

// DBFileName is the database file name inside the data directory.
const DBFileName = "m4food.db3"

// TilesDirName is the tile cache directory name inside the data directory.
const TilesDirName = "map_tiles"

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DataDir: "./data",
		Log: LogConfig{
			Server: LogSettings{
				Path:  "./logs/m4cache.log",
				Level: "INFO",
			},
			Requests: LogSettings{
				Path:  "./logs/requests.log",
				Level: "INFO",
			},
		},
		Tiles: TilesConfig{
			BaseURL:     "https://tile.openstreetmap.org",
			Extension:   "png",
			Timeout:     Duration(10 * time.Second),
			Throttle:    Duration(50 * time.Millisecond),
			Concurrency: 2,
			MaxAge:      Duration(30 * Day),
		},
		Routes: RoutesConfig{
			Retention: Duration(30 * Day),
		},
		Images: ImagesConfig{
			Retention: Duration(30 * Day),
		},
		Request: RequestConfig{
			Retries: 3,
			Backoff: BackoffConfig{
				BaseDelay: Duration(500 * time.Millisecond),
				MaxDelay:  Duration(30 * time.Second),
			},
		},
	}
}

// DBPath returns the database file path.
func (c *Config) DBPath() string {
	if c.DB.Path != "" {
		return c.DB.Path
	}
	return filepath.Join(c.DataDir, DBFileName)
}

// TileDir returns the tile cache directory.
func (c *Config) TileDir() string {
	if c.Tiles.Dir != "" {
		return c.Tiles.Dir
	}
	return filepath.Join(c.DataDir, TilesDirName)
}

// Load loads the configuration from the given path.
// If the file does not exist, it creates it with default values.
// If the file exists, it overlays it onto the defaults but does NOT save back
// to disk (to preserve user formatting and comments).
// Environment overrides apply in both cases and are never saved.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if err := Save(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to save config file: %w", err)
	}

	applyEnv(cfg)
	expandPaths(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvDataDir); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv(EnvTileURL); v != "" {
		cfg.Tiles.BaseURL = v
	}
	if v := os.Getenv(EnvUserAgent); v != "" {
		cfg.Tiles.UserAgent = v
	}
}

// expandPaths resolves $VAR references in path settings.
func expandPaths(cfg *Config) {
	for _, p := range []*string{
		&cfg.DataDir, &cfg.DB.Path, &cfg.Tiles.Dir, &cfg.Seed.StoresCSV,
		&cfg.Log.Server.Path, &cfg.Log.Requests.Path,
	} {
		*p = os.ExpandEnv(*p)
	}
}

// Validate checks settings that would otherwise fail late.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Tiles.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid tiles.base_url '%s': must be an http(s) URL", c.Tiles.BaseURL)
	}
	if !isValidExtension(c.Tiles.Extension) {
		return fmt.Errorf("invalid tiles.extension '%s'", c.Tiles.Extension)
	}
	if c.Tiles.Concurrency < 1 {
		return fmt.Errorf("tiles.concurrency must be at least 1, got %d", c.Tiles.Concurrency)
	}
	for _, a := range c.Tiles.Prefetch {
		if a.Lat < -90 || a.Lat > 90 || a.Lon < -180 || a.Lon > 180 {
			return fmt.Errorf("prefetch area '%s': coordinates out of range", a.Name)
		}
		for _, z := range a.Zooms {
			if z < 0 || z > 19 {
				return fmt.Errorf("prefetch area '%s': zoom %d out of range 0-19", a.Name, z)
			}
		}
	}
	return nil
}

func isValidExtension(s string) bool {
	matched, _ := regexp.MatchString(`^[a-z0-9]{2,5}$`, s)
	return matched
}

// Save writes the configuration to the path.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# m4cache Configuration
# ---------------------
# Supported Units:
#   Duration: ns, us (or µs), ms, s, m, h, d (day), w (week)
#   Distance: m (meters), km (kilometers), nm (nautical miles), ft (feet)
# Environment overrides: ` + EnvDataDir + `, ` + EnvTileURL + `, ` + EnvUserAgent + `

`)
	data = append(header, data...)

	reBase := regexp.MustCompile(`(?m)^(\s+)base_url:`)
	data = reBase.ReplaceAll(data, []byte("${1}# Tiles are fetched from {base_url}/{z}/{x}/{y}.{extension}\n${1}base_url:"))

	reDB := regexp.MustCompile(`(?m)^(\s+)path: ""`)
	data = reDB.ReplaceAll(data, []byte("${1}# Empty: <data_dir>/"+DBFileName+"\n${1}path: \"\""))

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GenerateDefault creates a default config file at the given path.
// Returns nil if the file already exists.
func GenerateDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	return Save(path, DefaultConfig())
}
