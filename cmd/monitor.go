package cmd

import (
	"context"
	"fmt"
	"os/signal"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/bnema/uterm/internal/config"
	"github.com/bnema/uterm/internal/eventloop"
	"github.com/bnema/uterm/internal/logger"
	"github.com/bnema/uterm/internal/monitor"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch seat and device hotplug",
	Long:  `Stream seat and device events as hardware comes and goes, until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loop, err := eventloop.NewPoller()
		if err != nil {
			return err
		}
		defer loop.Close()

		mon, err := monitor.New(loop, printMonitorEvent,
			monitor.WithSeatRules(seatRules()))
		if err != nil {
			return fmt.Errorf("failed to start device monitor: %w", err)
		}
		defer mon.Unref()

		stopWatch, err := config.Watch(func(c *config.Config) {
			if c.Logging.LogLevel != "" {
				logger.SetLevel(c.Logging.LogLevel)
			}
		})
		if err != nil {
			logger.Debugf("Config watching disabled: %v", err)
		} else {
			defer stopWatch()
		}

		mon.Scan()
		logger.Info("Watching for hotplug, ctrl-c to stop")

		ctx, stop := signal.NotifyContext(cmd.Context(), unix.SIGINT, unix.SIGTERM)
		defer stop()
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}

func printMonitorEvent(_ *monitor.Monitor, ev *monitor.Event) {
	switch ev.Type {
	case monitor.NewSeat, monitor.FreeSeat:
		fmt.Printf("%-12s %s\n", ev.Type, ev.Seat.Name())
	default:
		fmt.Printf("%-12s %s %s %s [%s]\n",
			ev.Type, ev.Seat.Name(), ev.Dev.Type(), ev.Dev.Node(), flagString(ev.Dev.Flags()))
	}
}
