package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/bnema/uterm/internal/config"
	"github.com/bnema/uterm/internal/eventloop"
	"github.com/bnema/uterm/internal/input"
	"github.com/bnema/uterm/internal/keymap"
	"github.com/bnema/uterm/internal/logger"
	"github.com/bnema/uterm/internal/monitor"
)

var inputLayout string

var inputCmd = &cobra.Command{
	Use:   "input",
	Short: "Dump decoded keyboard events",
	Long: `Attach every discovered input device and print each decoded key event:
keycode, keysyms, modifiers and codepoints. Needs read access to
/dev/input. Interrupt to stop.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loop, err := eventloop.NewPoller()
		if err != nil {
			return err
		}
		defer loop.Close()

		cfg := config.Get().Input
		if inputLayout != "" {
			cfg.Layout = inputLayout
		}
		in, err := input.New(loop, keymap.Config{
			Model:   cfg.Model,
			Layout:  cfg.Layout,
			Variant: cfg.Variant,
			Options: cfg.Options,
		},
			time.Duration(cfg.RepeatDelayMS)*time.Millisecond,
			time.Duration(cfg.RepeatRateMS)*time.Millisecond)
		if err != nil {
			return fmt.Errorf("failed to create input multiplexer: %w", err)
		}
		defer in.Unref()

		sub := in.RegisterCallback(printInputEvent)
		defer sub.Unregister()

		// The monitor feeds device nodes into the multiplexer, both the
		// initial scan and later hotplug.
		mon, err := monitor.New(loop, func(_ *monitor.Monitor, ev *monitor.Event) {
			if ev.Dev == nil || ev.Dev.Type() != monitor.DevInput {
				return
			}
			if excluded(ev.Dev.Node(), cfg.Exclude) {
				logger.Debugf("Skipping excluded input device %s", ev.Dev.Node())
				return
			}
			switch ev.Type {
			case monitor.NewDev, monitor.HotplugDev:
				in.AddDevice(ev.Dev.Node())
			case monitor.FreeDev:
				in.RemoveDevice(ev.Dev.Node())
			}
		}, monitor.WithSeatRules(seatRules()))
		if err != nil {
			return fmt.Errorf("failed to start device monitor: %w", err)
		}
		defer mon.Unref()

		mon.Scan()
		logger.Info("Decoding key events, ctrl-c to stop")

		ctx, stop := signal.NotifyContext(cmd.Context(), unix.SIGINT, unix.SIGTERM)
		defer stop()
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			return err
		}
		return nil
	},
}

func excluded(node string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, node); ok {
			return true
		}
	}
	return false
}

func printInputEvent(in *input.Input, ev *input.Event) {
	for i, sym := range ev.Keysyms {
		cp := ev.Codepoints[i]
		cpStr := "invalid"
		if cp != keymap.InvalidCodepoint {
			cpStr = fmt.Sprintf("U+%04X", cp)
		}
		fmt.Printf("key %3d  sym %-12s mods %05b  %s\n",
			ev.Keycode, in.KeysymToString(sym), ev.Mods, cpStr)
	}
}

func init() {
	inputCmd.Flags().StringVar(&inputLayout, "layout", "", "keyboard layout override")
}
