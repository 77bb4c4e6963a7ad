package cli

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"threadlet/internal/demo"
	"threadlet/pkg/logx"
)

func newDemoCmd() *cobra.Command {
	var unit time.Duration

	cmd := &cobra.Command{
		Use:   "demo [name]",
		Short: "Run a built-in scenario, or list them",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 0 {
				for _, n := range demo.Names() {
					fmt.Fprintf(out, "%-10s %s\n", n, demo.Describe(n))
				}
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			log := logger.With(logx.String("demo", args[0]))
			rep, err := demo.Run(ctx, args[0], demo.Options{Log: log, Unit: unit})
			if err != nil {
				return err
			}
			for _, n := range rep.Names() {
				fmt.Fprintf(out, "%-14s %d\n", n, rep.Count(n))
			}
			fmt.Fprintf(out, "outcome: %s\n", rep.Outcome)
			return nil
		},
	}
	cmd.Flags().DurationVar(&unit, "unit", 100*time.Millisecond, "Base time step of the scenario")
	return cmd
}
