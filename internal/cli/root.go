/**
 * Command-line entrypoint for docprocd.
 *
 * Grounded on Dirstral-dir2mcp's internal/cli package shape: a cobra root
 * command plus one file per subcommand, superseding the teacher's flat
 * main()+godotenv.Load (cmd/worker/main.go), generalized to the multi-mode
 * entrypoint spec §287 calls for.
 */

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "docprocd",
	Short: "Human-in-the-loop document processing pipeline",
	Long:  "docprocd watches an intake directory, runs OCR/AI classification with a resumable pipeline, and exports verified documents into a filing cabinet.",
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(intakeCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(migrateCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
