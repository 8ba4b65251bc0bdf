package cmd

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/teemow/hostmcp/internal/config"
	"github.com/teemow/hostmcp/internal/logging"
)

// rootCmd represents the base command for the hostmcp application
var rootCmd = &cobra.Command{
	Use:   "hostmcp",
	Short: "Expose a host application's tools to AI agents over MCP",
	Long: `hostmcp embeds a Model Context Protocol server in a host application.
Agents talk JSON-RPC over HTTP on a loopback port; tool calls are marshaled
onto the host's primary loop with a bounded wait.

The bundled demo host runs a frame loop and a handful of tools so the
server can be exercised end to end.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		slog.SetDefault(slog.New(logging.NewHandler(os.Stderr, logFormat, debugMode)))
		return nil
	},
}

// version will be set by main
var version = "dev"

var (
	debugMode  bool
	logFormat  string
	configFile string
)

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "hostmcp version %s\n" .Version}}`)

	// If no subcommand is provided, run the serve command by default
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// openConfig loads the config store from --config or the default location.
func openConfig() (*config.Store, error) {
	path := configFile
	if path == "" {
		var err error
		path, err = config.DefaultFile()
		if err != nil {
			return nil, err
		}
	}
	store := config.NewStore(path)
	if err := store.Load(); err != nil {
		return nil, err
	}
	return store, nil
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatText, "Log format: text or json")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default: ~/.config/hostmcp/config.json)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}
