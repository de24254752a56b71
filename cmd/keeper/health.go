package main

import (
	"errors"
	"fmt"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wilologistics/keeper/internal/health"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run the health checks once and print the report",
	Long: `Run every registered health check (database, storage, memory, disk)
and print the aggregate report. Exits non-zero when a critical check fails.`,
	Args: cobra.NoArgs,
	RunE: runHealth,
}

func init() {
	healthCmd.Flags().BoolVar(&outputJSON, "json", false, "output result as JSON")
	rootCmd.AddCommand(healthCmd)
}

func runHealth(cmd *cobra.Command, args []string) error {
	ctx, cancel := exitOnSignalContext()
	defer cancel()

	k, logger, err := openKeeper(ctx)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer k.Close()

	rep := k.Health().Status(ctx)
	if outputJSON {
		if err := writeJSON(cmd, rep); err != nil {
			return err
		}
	} else {
		printHealth(cmd, rep)
	}
	if !rep.Healthy() {
		return errors.New("critical health checks failed")
	}
	return nil
}

func printHealth(cmd *cobra.Command, rep health.Report) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Status:  %s (%.0f%% of checks passing)\n\n", rep.Status, rep.OverallHealth)

	names := make([]string, 0, len(rep.Checks))
	for name := range rep.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tCRITICAL\tTIME\tMESSAGE")
	for _, name := range names {
		r := rep.Checks[name]
		fmt.Fprintf(w, "%s\t%s\t%v\t%v\t%s\n", name, r.Status, r.Critical, r.Duration.Round(time.Millisecond), r.Message)
	}
	w.Flush()
}
