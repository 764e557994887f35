package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/jrgochan/labctl/internal/output"
)

var docsCmd = &cobra.Command{
	Use:    "docs",
	Short:  "Generate CLI documentation",
	Long:   `Generate man pages or markdown documentation for all labctl commands.`,
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, _ := cmd.Flags().GetString("format")
		outDir, _ := cmd.Flags().GetString("output")

		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return fmt.Errorf("creating output directory: %w", err)
		}

		switch format {
		case "man":
			header := &doc.GenManHeader{Title: "LABCTL", Section: "1"}
			return doc.GenManTree(rootCmd, header, outDir)
		case "markdown":
			return doc.GenMarkdownTree(rootCmd, outDir)
		default:
			return &output.CLIError{
				Summary:    fmt.Sprintf("unsupported documentation format %q", format),
				Suggestion: "Use --format man or --format markdown",
				ExitCode:   output.ExitUsageError,
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(docsCmd)

	docsCmd.Flags().String("format", "markdown", "documentation format (man, markdown)")
	docsCmd.Flags().String("output", "./docs", "output directory")
}
