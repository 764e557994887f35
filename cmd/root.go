// Package cmd contains all CLI commands for labctl
package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jrgochan/labctl/internal/config"
	"github.com/jrgochan/labctl/internal/output"
)

var (
	cfgFile    string
	verbose    bool
	quiet      bool
	colorFlag  string
	namespace  string
	kubeconfig string
	kubectx    string
	cfg        *config.Config
	logger     *slog.Logger
	version    = "dev"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "labctl",
	Short: "HPC/AI lab deployment CLI",
	Long: `labctl deploys and manages the HPC/AI teaching lab on an OpenShift
or CRC cluster: JupyterHub, a llama.cpp inference server, a chat UI,
an inference demo service, and MPI exercises.

Modules are applied in dependency order, health-checked, and tracked
through durable deployment records inside the cluster.

Example usage:
  labctl deploy --all               # Deploy every module
  labctl deploy --module jupyter    # Deploy jupyter and its dependencies
  labctl status                     # Show deployment state and health
  labctl list                       # List available modules
  labctl uninstall --all            # Remove everything`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig()
	},
}

// Execute runs the root command, reports any error to stderr, and returns
// the process exit code. The context cancels in-flight cluster operations
// on SIGINT.
func Execute(ctx context.Context) int {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printer := newPrinter()
		var cliErr *output.CLIError
		if errors.As(err, &cliErr) {
			printer.FormatError(cliErr)
			return cliErr.ExitCode
		}
		printer.Error("%s", err)
		return output.ExitGeneral
	}
	return output.ExitSuccess
}

// SetVersion sets the version string for the CLI
func SetVersion(v string) {
	version = v
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .labctl.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress non-essential output")
	rootCmd.PersistentFlags().StringVar(&colorFlag, "color", "auto", "color output (auto, always, never)")
	rootCmd.PersistentFlags().StringVarP(&namespace, "namespace", "n", "", "lab namespace (overrides config)")
	rootCmd.PersistentFlags().StringVar(&kubeconfig, "kubeconfig", "", "path to the kubeconfig file")
	rootCmd.PersistentFlags().StringVar(&kubectx, "context", "", "kubeconfig context to use")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() error {
	var err error

	cfg, err = config.Load(cfgFile)
	if err != nil {
		return &output.CLIError{
			Summary:  "failed loading configuration",
			Detail:   err.Error(),
			ExitCode: output.ExitConfigError,
		}
	}

	// Flags win over config file values
	if namespace != "" {
		cfg.Lab.Namespace = namespace
	}
	if kubeconfig != "" {
		cfg.Cluster.Kubeconfig = kubeconfig
	}
	if kubectx != "" {
		cfg.Cluster.Context = kubectx
	}

	logger = newLogger()
	logger.Debug("configuration loaded",
		"namespace", cfg.Lab.Namespace,
		"domain", cfg.Lab.Domain,
		"kubeconfig", cfg.Cluster.Kubeconfig,
	)
	return nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelWarn
	default:
		switch cfg.Logging.Level {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newPrinter builds a printer honoring the color flag, config colors,
// and --quiet.
func newPrinter() *output.Printer {
	mode, err := output.ParseColorMode(colorFlag)
	if err != nil {
		mode = output.ColorAuto
	}
	configColors := false
	if cfg != nil {
		configColors = cfg.Output.Colors
	}
	return output.NewPrinterWithOptions(output.PrinterOptions{
		ColorMode:    mode,
		ConfigColors: configColors,
		Quiet:        quiet,
	})
}

// splitModuleArgs expands repeated and comma-separated --module values.
func splitModuleArgs(values []string) []string {
	var names []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				names = append(names, part)
			}
		}
	}
	return names
}

// requireTarget enforces that exactly one of --all or --module was given.
func requireTarget(all bool, modules []string) error {
	if all && len(modules) > 0 {
		return &output.CLIError{
			Summary:  "--all and --module are mutually exclusive",
			ExitCode: output.ExitUsageError,
		}
	}
	if !all && len(modules) == 0 {
		return &output.CLIError{
			Summary:    "no modules selected",
			Suggestion: fmt.Sprintf("Pass --all or --module <name>; run '%s list' to see available modules", rootCmd.Use),
			ExitCode:   output.ExitUsageError,
		}
	}
	return nil
}
