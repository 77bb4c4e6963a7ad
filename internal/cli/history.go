package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"threadlet/internal/app"
	"threadlet/internal/config"
	"threadlet/internal/storage"
)

func newHistoryCmd() *cobra.Command {
	var cfgPath string
	var q storage.Query

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded tasklet runs and threadlet outcomes, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigManager(configPath(cfgPath)).Load()
			if err != nil {
				return err
			}
			st, err := app.OpenStore(cfg, logger)
			if err != nil {
				return err
			}
			if st == nil {
				return fmt.Errorf("storage is disabled in %s", configPath(cfgPath))
			}
			defer st.Close()

			recs, err := st.RecentRuns(cmd.Context(), q)
			if err != nil {
				return fmt.Errorf("read history: %w", err)
			}
			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "No records found.")
				return nil
			}
			fmt.Fprintf(out, "%-19s  %-8s  %-16s  %-16s  %8s  %s\n", "AT", "KIND", "THREADLET", "TASKLET", "MS", "RESULT")
			for _, r := range recs {
				result := r.Outcome
				if r.Error != "" {
					result = "error: " + r.Error
				}
				fmt.Fprintf(out, "%-19s  %-8s  %-16s  %-16s  %8d  %s\n",
					r.At.Local().Format("2006-01-02 15:04:05"), r.Kind, r.Threadlet, r.Tasklet, r.DurationMS, result)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Config file, JSON or YAML (or THREADLET_CONFIG)")
	cmd.Flags().StringVar(&q.Threadlet, "threadlet", "", "Only this threadlet")
	cmd.Flags().StringVar(&q.Tasklet, "tasklet", "", "Only this tasklet")
	cmd.Flags().StringVar(&q.Kind, "kind", "", "Only this record kind (run, outcome)")
	cmd.Flags().IntVarP(&q.Limit, "limit", "n", 20, "Maximum records")
	return cmd
}
