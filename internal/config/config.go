// Package config provides configuration management for dupview.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"

	"github.com/dedupfs/dupview/internal/constants"
	"github.com/dedupfs/dupview/internal/pathutil"
)

// Config is the effective client configuration.
//
// Config file location (override with --config):
//   - Unix: ~/.config/dupview/config
//   - Windows: %APPDATA%\dupview\config
//
// INI format:
//
//	[server]
//	api_url = http://localhost:8000/api/v1
//	api_token =
//	requests_per_second = 20
//	burst = 60
//
//	[proxy]
//	mode = no-proxy
//	host =
//	port = 8080
//	user =
//	password =
//	no_proxy =
//
//	[browse]
//	group_page_size = 200
//	file_page_size = 200
//	thumbnail_max_dimension = 256
//	thumbnail_format = jpeg
//	thumbnails = true
//
//	[cache]
//	path =
type Config struct {
	// Server connection
	APIBaseURL        string
	APIToken          string
	RequestsPerSecond float64
	Burst             float64

	// Proxy settings
	ProxyMode     string // "no-proxy", "system", "basic", "ntlm"
	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string
	NoProxy       string // Comma-separated list of hosts to bypass proxy

	// Browsing
	GroupPageSize         int
	FilePageSize          int
	ThumbnailMaxDimension int
	ThumbnailFormat       string
	Thumbnails            bool

	// CachePath is the sqlite database holding ready thumbnails; empty disables it.
	CachePath string
}

// Validation errors
var (
	ErrMissingAPIURL    = errors.New("api_url is required")
	ErrInvalidAPIURL    = errors.New("api_url must be an absolute http(s) URL")
	ErrInvalidPageSize  = errors.New("page sizes must be between 1 and 1000")
	ErrInvalidDimension = errors.New("thumbnail_max_dimension must be between 1 and 4096")
	ErrInvalidFormat    = errors.New("thumbnail_format must be one of jpeg, webp")
	ErrInvalidProxyMode = errors.New("proxy mode must be one of no-proxy, system, basic, ntlm")
	ErrMissingProxyHost = errors.New("proxy host is required for basic and ntlm modes")
	ErrInvalidRateLimit = errors.New("requests_per_second and burst must be positive")
)

// Environment variables that override the config file.
const (
	EnvAPIURL    = "DUPVIEW_API_URL"
	EnvAPIToken  = "DUPVIEW_API_TOKEN"
	EnvCachePath = "DUPVIEW_CACHE"
)

// New returns a Config populated with defaults.
func New() *Config {
	return &Config{
		APIBaseURL:            "http://localhost:8000/api/v1",
		RequestsPerSecond:     constants.DefaultRequestsPerSecond,
		Burst:                 constants.DefaultRequestBurst,
		ProxyMode:             "no-proxy",
		ProxyPort:             8080,
		GroupPageSize:         constants.DefaultGroupPageSize,
		FilePageSize:          constants.DefaultFilePageSize,
		ThumbnailMaxDimension: constants.DefaultThumbnailMaxDimension,
		ThumbnailFormat:       constants.DefaultThumbnailFormat,
		Thumbnails:            true,
	}
}

// ConfigDirectory returns the directory holding the config file.
func ConfigDirectory() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData == "" {
			return "", errors.New("APPDATA environment variable not set")
		}
		return filepath.Join(appData, "dupview"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "dupview"), nil
}

// DefaultPath returns the default config file path.
func DefaultPath() (string, error) {
	dir, err := ConfigDirectory()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config"), nil
}

// DefaultLogPath returns where the terminal browser writes its log.
func DefaultLogPath() string {
	dir, err := ConfigDirectory()
	if err != nil {
		return filepath.Join(os.TempDir(), "dupview.log")
	}
	return filepath.Join(dir, "dupview.log")
}

// Load reads configuration from an INI file and applies environment overrides.
// A missing file yields defaults (plus environment) and no error.
func Load(path string) (*Config, error) {
	cfg := New()

	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			cfg.applyEnv()
			return cfg, nil
		}
	}

	if _, err := os.Stat(path); err == nil {
		iniFile, err := ini.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg.applyINI(iniFile)
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (cfg *Config) applyINI(f *ini.File) {
	server := f.Section("server")
	cfg.APIBaseURL = server.Key("api_url").MustString(cfg.APIBaseURL)
	cfg.APIToken = server.Key("api_token").String()
	cfg.RequestsPerSecond = server.Key("requests_per_second").MustFloat64(cfg.RequestsPerSecond)
	cfg.Burst = server.Key("burst").MustFloat64(cfg.Burst)

	proxy := f.Section("proxy")
	cfg.ProxyMode = proxy.Key("mode").MustString(cfg.ProxyMode)
	cfg.ProxyHost = proxy.Key("host").String()
	cfg.ProxyPort = proxy.Key("port").MustInt(cfg.ProxyPort)
	cfg.ProxyUser = proxy.Key("user").String()
	cfg.ProxyPassword = proxy.Key("password").String()
	cfg.NoProxy = proxy.Key("no_proxy").String()

	browse := f.Section("browse")
	cfg.GroupPageSize = browse.Key("group_page_size").MustInt(cfg.GroupPageSize)
	cfg.FilePageSize = browse.Key("file_page_size").MustInt(cfg.FilePageSize)
	cfg.ThumbnailMaxDimension = browse.Key("thumbnail_max_dimension").MustInt(cfg.ThumbnailMaxDimension)
	cfg.ThumbnailFormat = browse.Key("thumbnail_format").MustString(cfg.ThumbnailFormat)
	cfg.Thumbnails = browse.Key("thumbnails").MustBool(cfg.Thumbnails)

	cfg.CachePath = f.Section("cache").Key("path").String()
}

func (cfg *Config) applyEnv() {
	if v := os.Getenv(EnvAPIURL); v != "" {
		cfg.APIBaseURL = v
	}
	if v := os.Getenv(EnvAPIToken); v != "" {
		cfg.APIToken = v
	}
	if v := os.Getenv(EnvCachePath); v != "" {
		cfg.CachePath = v
	}
}

// Save writes the configuration to an INI file.
// Creates parent directories if they don't exist.
func Save(cfg *Config, path string) error {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return fmt.Errorf("failed to determine config path: %w", err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	iniFile := ini.Empty()

	server, err := iniFile.NewSection("server")
	if err != nil {
		return fmt.Errorf("failed to create server section: %w", err)
	}
	server.Key("api_url").SetValue(cfg.APIBaseURL)
	server.Key("api_token").SetValue(cfg.APIToken)
	server.Key("requests_per_second").SetValue(strconv.FormatFloat(cfg.RequestsPerSecond, 'f', -1, 64))
	server.Key("burst").SetValue(strconv.FormatFloat(cfg.Burst, 'f', -1, 64))

	proxy, err := iniFile.NewSection("proxy")
	if err != nil {
		return fmt.Errorf("failed to create proxy section: %w", err)
	}
	proxy.Key("mode").SetValue(cfg.ProxyMode)
	proxy.Key("host").SetValue(cfg.ProxyHost)
	proxy.Key("port").SetValue(strconv.Itoa(cfg.ProxyPort))
	proxy.Key("user").SetValue(cfg.ProxyUser)
	proxy.Key("no_proxy").SetValue(cfg.NoProxy)
	// The proxy password is never persisted

	browse, err := iniFile.NewSection("browse")
	if err != nil {
		return fmt.Errorf("failed to create browse section: %w", err)
	}
	browse.Key("group_page_size").SetValue(strconv.Itoa(cfg.GroupPageSize))
	browse.Key("file_page_size").SetValue(strconv.Itoa(cfg.FilePageSize))
	browse.Key("thumbnail_max_dimension").SetValue(strconv.Itoa(cfg.ThumbnailMaxDimension))
	browse.Key("thumbnail_format").SetValue(cfg.ThumbnailFormat)
	browse.Key("thumbnails").SetValue(strconv.FormatBool(cfg.Thumbnails))

	cache, err := iniFile.NewSection("cache")
	if err != nil {
		return fmt.Errorf("failed to create cache section: %w", err)
	}
	cache.Key("path").SetValue(cfg.CachePath)

	// Temporary file + rename for atomicity
	tmpPath := path + ".tmp"
	if err := iniFile.SaveTo(tmpPath); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	// The token is sensitive
	if runtime.GOOS != "windows" {
		if err := os.Chmod(tmpPath, 0600); err != nil {
			os.Remove(tmpPath)
			return fmt.Errorf("failed to set config permissions: %w", err)
		}
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config: %w", err)
	}

	return nil
}

// Validate checks the configuration and returns the first problem found.
func (cfg *Config) Validate() error {
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		return ErrMissingAPIURL
	}
	u, err := url.Parse(cfg.APIBaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidAPIURL
	}
	if cfg.RequestsPerSecond <= 0 || cfg.Burst <= 0 {
		return ErrInvalidRateLimit
	}
	if !validPageSize(cfg.GroupPageSize) || !validPageSize(cfg.FilePageSize) {
		return ErrInvalidPageSize
	}
	if cfg.ThumbnailMaxDimension < 1 || cfg.ThumbnailMaxDimension > constants.MaxThumbnailDimension {
		return ErrInvalidDimension
	}
	switch strings.ToLower(cfg.ThumbnailFormat) {
	case "jpeg", "webp":
	default:
		return ErrInvalidFormat
	}
	switch strings.ToLower(cfg.ProxyMode) {
	case "", "no-proxy", "system":
	case "basic", "ntlm":
		if strings.TrimSpace(cfg.ProxyHost) == "" {
			return ErrMissingProxyHost
		}
	default:
		return ErrInvalidProxyMode
	}
	return nil
}

// Normalize lowercases enum-like fields and expands "~" in the cache path.
func (cfg *Config) Normalize() {
	cfg.ThumbnailFormat = strings.ToLower(strings.TrimSpace(cfg.ThumbnailFormat))
	cfg.ProxyMode = strings.ToLower(strings.TrimSpace(cfg.ProxyMode))
	cfg.APIBaseURL = strings.TrimSuffix(strings.TrimSpace(cfg.APIBaseURL), "/")
	if p, err := pathutil.Expand(strings.TrimSpace(cfg.CachePath)); err == nil {
		cfg.CachePath = p
	}
}

func validPageSize(n int) bool {
	return n >= constants.MinPageSize && n <= constants.MaxPageSize
}
