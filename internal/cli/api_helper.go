package cli

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/dedupfs/dupview/internal/api"
	"github.com/dedupfs/dupview/internal/config"
	inthttp "github.com/dedupfs/dupview/internal/http"
	"github.com/dedupfs/dupview/internal/session"
)

// loadConfig reads the config file, then environment, then global flags.
// Priority: flags > environment > config file > defaults
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	applyFlags(cfg)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := promptProxyPassword(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// promptProxyPassword asks for the proxy password when a proxy user is set
// without one. Without a terminal the proxy is tried as configured.
func promptProxyPassword(cfg *config.Config) error {
	if !inthttp.NeedsProxyPassword(cfg) || !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil
	}
	fmt.Fprintf(os.Stderr, "Proxy password for %s@%s: ", cfg.ProxyUser, cfg.ProxyHost)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return fmt.Errorf("failed to read proxy password: %w", err)
	}
	cfg.ProxyPassword = string(pw)
	return nil
}

func applyFlags(cfg *config.Config) {
	if apiBaseURL != "" {
		cfg.APIBaseURL = apiBaseURL
	}
	if apiToken != "" {
		cfg.APIToken = apiToken
	}
}

// getAPIClient loads configuration and creates an API client.
func getAPIClient() (*api.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	client, err := api.NewClient(cfg, GetLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to create API client: %w", err)
	}
	return client, nil
}

// openSession loads configuration and builds a browsing session. adjust, when
// set, may change the config before the session is created.
func openSession(opts session.Options, adjust func(*config.Config)) (*session.Session, *api.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if adjust != nil {
		adjust(cfg)
	}

	sess, client, err := session.NewFromConfig(cfg, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start session: %w", err)
	}
	return sess, client, nil
}
