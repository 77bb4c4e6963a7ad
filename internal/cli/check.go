package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"threadlet/internal/config"
	"threadlet/internal/schedule"
)

func newCheckCmd() *cobra.Command {
	var cfgPath string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate a config file and show when each item first fires",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigManager(configPath(cfgPath)).Load()
			if err != nil {
				return err
			}
			printPlan(cmd.OutOrStdout(), cfg, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Config file, JSON or YAML (or THREADLET_CONFIG)")
	return cmd
}

func printPlan(w io.Writer, cfg *config.Config, now time.Time) {
	for _, tc := range cfg.Threadlets {
		fmt.Fprintf(w, "%s\n", tc.Name)
		for _, ec := range tc.Events {
			fmt.Fprintf(w, "  %-8s %-20s %s\n", "event", ec.Name, firstFire(ec.Schedule, ec.Delay, ec.Suspended, now))
		}
		for _, kc := range tc.Tasklets {
			fmt.Fprintf(w, "  %-8s %-20s %s (%s)\n", "tasklet", kc.Name, firstFire(kc.Schedule, kc.Delay, kc.Suspended, now), kc.Action)
		}
	}
}

// firstFire describes the first activation of an item relative to now.
func firstFire(spec, delay string, suspended bool, now time.Time) string {
	if suspended {
		return "suspended"
	}
	d, _ := config.ParseDurationField("delay", delay)
	if spec == "" {
		if delay == "" {
			return "not armed"
		}
		return "once after " + d.String()
	}
	ps, err := schedule.ParseSchedule(spec)
	if err != nil {
		return "invalid schedule"
	}
	if ps.Kind == schedule.KindInterval {
		return fmt.Sprintf("after %s, then every %s", d, ps.Every)
	}
	rec, err := ps.Recurrence()
	if err != nil {
		return "invalid schedule"
	}
	at := rec.Next(now)
	if delay != "" {
		at = now.Add(d)
	}
	return fmt.Sprintf("at %s, cron %q", at.Format(time.DateTime), ps.Cron)
}
