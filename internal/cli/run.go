package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/spf13/cobra"

	"threadlet/internal/app"
	"threadlet/pkg/logx"
)

func newRunCmd() *cobra.Command {
	var cfgPath string
	var stopTimeout time.Duration

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the threadlets declared in a config file until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.NewApp(configPath(cfgPath))
			if err != nil {
				return err
			}

			sigs := make(chan os.Signal, 1)
			signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
			defer signal.Stop(sigs)

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return err
			}
			sdNotify(daemon.SdNotifyReady)

			reason := app.StopAppStop
			select {
			case sig := <-sigs:
				reason = app.StopSIGINT
				if sig == syscall.SIGTERM {
					reason = app.StopSIGTERM
				}
			case <-a.Finished():
				reason = app.StopFinished
			case <-a.Done():
				reason = app.StopFatalError
			}

			sdNotify(daemon.SdNotifyStopping)
			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			if err := a.Stop(stopCtx, reason); err != nil {
				return err
			}
			if reason == app.StopFatalError {
				return a.Err()
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "Config file, JSON or YAML (or THREADLET_CONFIG)")
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 10*time.Second, "Upper bound for graceful shutdown")
	return cmd
}

// sdNotify reports state to systemd when running under a notify unit.
func sdNotify(state string) {
	if ok, err := daemon.SdNotify(false, state); err != nil {
		logger.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
	} else if ok {
		logger.Debug("sd_notify sent", logx.String("state", state))
	}
}
