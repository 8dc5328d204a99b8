package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/surge/internal/config"
	"github.com/wesleyorama2/surge/internal/engine"
	"github.com/wesleyorama2/surge/internal/executor"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config>",
		Short: "Check a test file without running it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return validateFile(cmd.OutOrStdout(), args[0])
		},
	}
}

// validateFile builds an engine from the file, which checks everything a
// run would: schema, executors, requests, thresholds and outputs.
func validateFile(w io.Writer, path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}
	if _, err := engine.New(cfg, engine.Options{}); err != nil {
		return err
	}

	name := cfg.Name
	if name == "" {
		name = path
	}
	fmt.Fprintf(w, "%s is valid\n\n", name)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SCENARIO\tEXECUTOR\tMAX VUS\tDURATION\tSTART")
	for _, sn := range cfg.ScenarioNames() {
		ec, err := config.ConvertToExecutorConfig(sn, cfg.Scenarios[sn])
		if err != nil {
			return &engine.RunError{Code: engine.ExitInvalidConfig, Err: err}
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", sn, ec.Type, ec.PeakVUs(), ec.TotalDuration(), ec.StartTime)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	if len(cfg.Thresholds) > 0 {
		var keys []string
		for k := range cfg.Thresholds {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(w, "\nthresholds: %s\n", strings.Join(keys, ", "))
	}
	return nil
}

func newExecutorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "executors",
		Short: "List the available executors",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			listExecutors(cmd.OutOrStdout())
		},
	}
}

func listExecutors(w io.Writer) {
	for _, t := range executor.GetSupportedExecutors() {
		d := executor.GetExecutorDescription(t)
		if d == nil {
			continue
		}
		fmt.Fprintf(w, "%s (%s model)\n", d.Type, d.Model)
		fmt.Fprintf(w, "  %s\n", d.Description)
		fmt.Fprintf(w, "  options: %s\n\n", strings.Join(d.Options, ", "))
	}
}
