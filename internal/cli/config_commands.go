package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dedupfs/dupview/internal/config"
)

// newConfigCmd creates the 'config' command group.
func newConfigCmd() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage dupview configuration",
		Long: `Configuration management commands for dupview.

Commands:
  init  - Interactive configuration setup
  show  - Display the effective configuration
  path  - Show configuration file path`,
	}

	configCmd.AddCommand(newConfigInitCmd())
	configCmd.AddCommand(newConfigShowCmd())
	configCmd.AddCommand(newConfigPathCmd())
	return configCmd
}

func configPath() (string, error) {
	if cfgFile != "" {
		return cfgFile, nil
	}
	return config.DefaultPath()
}

// newConfigInitCmd creates the 'config init' command.
func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration interactively",
		Long: `Interactive configuration setup for dupview.

The configuration is saved to ~/.config/dupview/config unless --config is
given. Use --force to overwrite an existing file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if !force {
				if _, err := os.Stat(path); err == nil {
					fmt.Fprintf(out, "Configuration already exists at: %s\n", path)
					fmt.Fprintln(out, "Use --force to overwrite or run 'config show' to view current config.")
					return nil
				}
			}

			cfg, err := promptConfig(bufio.NewReader(cmd.InOrStdin()), out, config.New())
			if err != nil {
				return err
			}
			applyFlags(cfg)
			cfg.Normalize()
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if err := config.Save(cfg, path); err != nil {
				return err
			}
			GetLogger().Info().Str("path", path).Msg("Configuration saved")

			fmt.Fprintln(out)
			fmt.Fprintf(out, "✓ Configuration saved to: %s\n", path)
			fmt.Fprintln(out, "Check the connection with: dupview health")
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing configuration")
	return cmd
}

// promptConfig asks for each setting, keeping the default on an empty answer.
func promptConfig(r *bufio.Reader, w io.Writer, cfg *config.Config) (*config.Config, error) {
	ask := func(label, def string) (string, error) {
		if def != "" {
			fmt.Fprintf(w, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(w, "%s: ", label)
		}
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("failed to read input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return def, nil
		}
		return line, nil
	}
	askInt := func(label string, def int) (int, error) {
		s, err := ask(label, strconv.Itoa(def))
		if err != nil {
			return 0, err
		}
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			fmt.Fprintf(w, "  Invalid number, using %d\n", def)
			return def, nil
		}
		return v, nil
	}

	fmt.Fprintln(w, "dupview Configuration Setup")
	fmt.Fprintln(w, "===========================")
	fmt.Fprintln(w)

	var err error
	if cfg.APIBaseURL, err = ask("API URL", cfg.APIBaseURL); err != nil {
		return nil, err
	}
	if cfg.APIToken, err = ask("API token (optional)", cfg.APIToken); err != nil {
		return nil, err
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Browsing (press Enter for defaults)")
	fmt.Fprintln(w, "-----------------------------------")
	if cfg.GroupPageSize, err = askInt("Group page size", cfg.GroupPageSize); err != nil {
		return nil, err
	}
	if cfg.FilePageSize, err = askInt("File page size", cfg.FilePageSize); err != nil {
		return nil, err
	}
	if cfg.ThumbnailMaxDimension, err = askInt("Thumbnail size (px)", cfg.ThumbnailMaxDimension); err != nil {
		return nil, err
	}
	if cfg.ThumbnailFormat, err = ask("Thumbnail format (jpeg, webp)", cfg.ThumbnailFormat); err != nil {
		return nil, err
	}
	if cfg.CachePath, err = ask("Thumbnail cache file (empty disables)", cfg.CachePath); err != nil {
		return nil, err
	}

	fmt.Fprintln(w)
	useProxy, err := ask("Configure proxy? [y/N]", "")
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(useProxy, "y") || strings.EqualFold(useProxy, "yes") {
		fmt.Fprintln(w, "Proxy modes: no-proxy, system, basic, ntlm")
		if cfg.ProxyMode, err = ask("Proxy mode", "system"); err != nil {
			return nil, err
		}
		if cfg.ProxyMode == "basic" || cfg.ProxyMode == "ntlm" {
			if cfg.ProxyHost, err = ask("Proxy host", cfg.ProxyHost); err != nil {
				return nil, err
			}
			if cfg.ProxyPort, err = askInt("Proxy port", cfg.ProxyPort); err != nil {
				return nil, err
			}
			if cfg.ProxyUser, err = ask("Proxy user (optional)", cfg.ProxyUser); err != nil {
				return nil, err
			}
		}
		if cfg.NoProxy, err = ask("Hosts that bypass the proxy (comma-separated)", cfg.NoProxy); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// newConfigShowCmd creates the 'config show' command.
func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the effective configuration, merged from:
  1. Configuration file (~/.config/dupview/config)
  2. Environment variables (DUPVIEW_API_URL, DUPVIEW_API_TOKEN, DUPVIEW_CACHE)
  3. Command-line flags (--api-url, --token)

Priority: flags > environment > config file > defaults`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			applyFlags(cfg)
			cfg.Normalize()

			path, _ := configPath()
			printConfig(cmd.OutOrStdout(), cfg, path)
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			return nil
		},
	}
}

func printConfig(w io.Writer, cfg *config.Config, path string) {
	fmt.Fprintln(w, "Current Configuration")
	fmt.Fprintln(w, "=====================")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Server:")
	fmt.Fprintf(w, "  API URL:    %s\n", cfg.APIBaseURL)
	if cfg.APIToken != "" {
		// Never print any part of the token
		fmt.Fprintf(w, "  API token:  <set (%d chars)>\n", len(cfg.APIToken))
	} else {
		fmt.Fprintln(w, "  API token:  <not set>")
	}
	fmt.Fprintf(w, "  Rate limit: %g req/s (burst %g)\n", cfg.RequestsPerSecond, cfg.Burst)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Browsing:")
	fmt.Fprintf(w, "  Page sizes: %d groups, %d files\n", cfg.GroupPageSize, cfg.FilePageSize)
	fmt.Fprintf(w, "  Thumbnails: %t (%dpx %s)\n", cfg.Thumbnails, cfg.ThumbnailMaxDimension, cfg.ThumbnailFormat)
	if cfg.CachePath != "" {
		fmt.Fprintf(w, "  Cache:      %s\n", cfg.CachePath)
	} else {
		fmt.Fprintln(w, "  Cache:      <disabled>")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Proxy:")
	fmt.Fprintf(w, "  Mode: %s\n", cfg.ProxyMode)
	if cfg.ProxyHost != "" {
		fmt.Fprintf(w, "  Host: %s:%d\n", cfg.ProxyHost, cfg.ProxyPort)
	}
	if cfg.NoProxy != "" {
		fmt.Fprintf(w, "  Bypass: %s\n", cfg.NoProxy)
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Configuration file: %s\n", path)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintln(w, "  (file does not exist - using defaults)")
	}
}

// newConfigPathCmd creates the 'config path' command.
func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := configPath()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}
}
