package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teemow/hostmcp/internal/config"
	"github.com/teemow/hostmcp/internal/logging"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or change the MCP server configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openConfig()
			if err != nil {
				return err
			}
			cfg, err := store.Config()
			if err != nil {
				return err
			}
			return writeConfig(cmd, cfg)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <key> <value>",
		Short: "Change a setting and save it",
		Long: "Change a setting and write it to the config file.\n\nKeys: " +
			strings.Join(config.Keys(), ", "),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openConfig()
			if err != nil {
				return err
			}
			if err := store.Set(args[0], args[1]); err != nil {
				return err
			}
			if err := store.Save(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s to %s\n", args[0], store.Path())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Print the config file location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openConfig()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), store.Path())
			return nil
		},
	})

	return cmd
}

// configView is the printable form of a config. The API key is masked and
// durations are shown the way they are written.
type configView struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	APIKey         string   `json:"api-key"`
	Path           string   `json:"path"`
	CallTimeout    string   `json:"call-timeout"`
	SessionTTL     string   `json:"session-ttl"`
	SweepInterval  string   `json:"sweep-interval"`
	AllowedOrigins []string `json:"allowed-origins"`
}

func writeConfig(cmd *cobra.Command, cfg config.Config) error {
	view := configView{
		Enabled:        cfg.Enabled,
		Port:           cfg.Port,
		APIKey:         logging.SanitizeToken(cfg.APIKey),
		Path:           cfg.Path,
		CallTimeout:    cfg.CallTimeout.String(),
		SessionTTL:     cfg.SessionTTL.String(),
		SweepInterval:  cfg.SweepInterval.String(),
		AllowedOrigins: cfg.AllowedOrigins,
	}
	if view.AllowedOrigins == nil {
		view.AllowedOrigins = []string{}
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(view)
}
