package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"livestreamdvr/internal/deps"
	"livestreamdvr/internal/preflight"
)

func newDepsCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Check external tools and the environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			statuses := deps.CheckBinaries(deps.Requirements(cfg))
			rows := make([][]string, 0, len(statuses))
			for _, st := range statuses {
				location := st.Path
				if !st.Available {
					location = st.Detail
				}
				rows = append(rows, []string{
					st.Name,
					okLabel(st.Available, "found", "missing", colorize),
					yesNo(!st.Optional),
					location,
					st.Description,
				})
			}
			fmt.Fprint(out, renderTable(
				[]string{"Tool", "Status", "Required", "Location", "Used for"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
			))

			results := preflight.RunAll(commandCtx(cmd), cfg)
			if len(results) > 0 {
				checks := make([][]string, 0, len(results))
				for _, r := range results {
					checks = append(checks, []string{r.Name, okLabel(r.Passed, "ok", "failed", colorize), yesNo(r.Required), r.Detail})
				}
				fmt.Fprintln(out)
				fmt.Fprint(out, renderTable(
					[]string{"Check", "Result", "Required", "Detail"},
					checks,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft},
				))
			}

			if missing := deps.MissingRequired(statuses); len(missing) > 0 {
				return fmt.Errorf("missing required tools: %s", strings.Join(missing, ", "))
			}
			if failed := preflight.FailedRequired(results); len(failed) > 0 {
				return fmt.Errorf("%d required checks failed", len(failed))
			}
			return nil
		},
	}
}
