package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"livestreamdvr/internal/jobs"
	"livestreamdvr/internal/textutil"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List supervised job records",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			records, errs := jobs.ReadRecords(cfg.Paths.PidsDir)
			for _, err := range errs {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", err)
			}
			sort.Slice(records, func(i, j int) bool { return records[i].StartedAt.Before(records[j].StartedAt) })

			if asJSON {
				return writeJSON(cmd, records)
			}
			out := cmd.OutOrStdout()
			if len(records) == 0 {
				fmt.Fprintln(out, "No job records")
				return nil
			}
			colorize := shouldColorize(out)
			rows := make([][]string, 0, len(records))
			now := time.Now()
			for _, rec := range records {
				progress := "-"
				if rec.Progress != nil {
					progress = fmt.Sprintf("%.1f%%", *rec.Progress*100)
				}
				rows = append(rows, []string{
					rec.Name,
					strconv.Itoa(rec.PID),
					okLabel(rec.Alive(), "alive", "gone", colorize),
					string(rec.Status),
					progress,
					textutil.NiceDuration(now.Sub(rec.StartedAt).Seconds()),
					rec.VODUUID(),
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"Name", "PID", "Process", "Status", "Progress", "Age", "VOD"},
				rows,
				[]columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignRight, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit JSON")
	return cmd
}
