package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/bnema/uterm/internal/config"
	"github.com/bnema/uterm/internal/eventloop"
	"github.com/bnema/uterm/internal/input"
	"github.com/bnema/uterm/internal/keymap"
	"github.com/bnema/uterm/internal/logger"
	"github.com/bnema/uterm/internal/vt"
)

var (
	vtType   string
	vtSwitch bool
)

var vtCmd = &cobra.Command{
	Use:   "vt",
	Short: "Allocate a virtual terminal and hold it",
	Long: `Allocate a virtual terminal on the configured seat, activate it and hold
it until interrupted. With a real VT the kernel switches away from the
current console; a fake VT only exercises the session logic. Needs root
for real VTs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loop, err := eventloop.NewPoller()
		if err != nil {
			return err
		}
		defer loop.Close()

		vtc := config.Get().VT
		if vtType != "" {
			vtc.Type = vtType
		}
		allowed, err := parseVTType(vtc.Type)
		if err != nil {
			return err
		}

		ic := config.Get().Input
		in, err := input.New(loop, keymap.Config{
			Model:   ic.Model,
			Layout:  ic.Layout,
			Variant: ic.Variant,
			Options: ic.Options,
		},
			time.Duration(ic.RepeatDelayMS)*time.Millisecond,
			time.Duration(ic.RepeatRateMS)*time.Millisecond)
		if err != nil {
			return fmt.Errorf("failed to create input multiplexer: %w", err)
		}
		defer in.Unref()

		master, err := vt.NewMaster(loop)
		if err != nil {
			return err
		}
		defer master.Unref()

		term, err := master.Allocate(allowed, vtc.Seat, in, vtc.Name, func(v *vt.VT, ev *vt.Event) int {
			logger.Info("VT event", "action", ev.Action.String(), "state", v.State().String())
			return 0
		})
		if err != nil {
			return fmt.Errorf("failed to allocate VT: %w", err)
		}
		defer term.Unref()

		if vtSwitch {
			if err := term.Activate(); err != nil {
				return fmt.Errorf("failed to activate VT: %w", err)
			}
		}
		logger.Info("Holding VT, ctrl-c to release", "type", typeName(term.Type()), "id", term.ID())

		ctx, stop := signal.NotifyContext(cmd.Context(), unix.SIGINT, unix.SIGTERM)
		defer stop()
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			return err
		}

		if err := term.Deactivate(); err != nil {
			logger.Warn("Deactivate failed", "error", err)
		}
		return nil
	},
}

func parseVTType(s string) (vt.Type, error) {
	switch s {
	case "", "auto":
		return vt.TypeReal | vt.TypeFake, nil
	case "real":
		return vt.TypeReal, nil
	case "fake":
		return vt.TypeFake, nil
	}
	return 0, fmt.Errorf("unknown vt type %q (want auto, real or fake)", s)
}

func typeName(t vt.Type) string {
	if t == vt.TypeReal {
		return "real"
	}
	return "fake"
}

func init() {
	vtCmd.Flags().StringVar(&vtType, "type", "", "vt type override (auto, real, fake)")
	vtCmd.Flags().BoolVar(&vtSwitch, "switch", true, "switch to the terminal after allocating it")
}
