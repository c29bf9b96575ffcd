/**
 * `docprocd intake scan`: one-shot analyze-only pass over the intake
 * directory, useful for inspecting how files would be classified
 * (single_document vs batch_scan) without running OCR or committing a
 * batch, and for scripted re-triggers outside the watcher.
 */

package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var intakeCmd = &cobra.Command{
	Use:   "intake",
	Short: "Intake directory operations",
}

var intakeScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Analyze every file currently in the intake directory and print the detected strategy",
	RunE:  runIntakeScan,
}

func init() {
	intakeCmd.AddCommand(intakeScanCmd)
}

func runIntakeScan(cmd *cobra.Command, _ []string) error {
	c, err := wire()
	if err != nil {
		return err
	}
	defer c.store.Close()

	entries, err := os.ReadDir(c.cfg.IntakeDir)
	if err != nil {
		return fmt.Errorf("reading intake directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(c.cfg.IntakeDir, entry.Name())
		analysis, err := c.detector.Analyze(path)
		if err != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\tERROR\t%v\n", entry.Name(), err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tpages=%d\tconfidence=%.2f\n",
			entry.Name(), analysis.Strategy, analysis.PageCount, analysis.Confidence)
	}
	return nil
}
