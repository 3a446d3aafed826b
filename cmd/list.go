package cmd

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/bnema/uterm/internal/config"
	"github.com/bnema/uterm/internal/eventloop"
	"github.com/bnema/uterm/internal/monitor"
)

var (
	colPrimary = lipgloss.Color("39")
	colSubtle  = lipgloss.Color("241")
	colInfo    = lipgloss.Color("86")
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List present seats and devices",
	Long:  `Enumerate all seats and their display and input devices in one shot.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		loop := eventloop.NewManual()

		rows := [][]string{}
		mon, err := monitor.New(loop, func(_ *monitor.Monitor, ev *monitor.Event) {
			if ev.Type != monitor.NewDev {
				return
			}
			rows = append(rows, []string{
				ev.Seat.Name(),
				ev.Dev.Type().String(),
				ev.Dev.Node(),
				flagString(ev.Dev.Flags()),
			})
		}, monitor.WithSeatRules(seatRules()))
		if err != nil {
			return fmt.Errorf("failed to start device monitor: %w", err)
		}
		defer mon.Unref()

		mon.Scan()

		if len(rows) == 0 {
			fmt.Println("No devices found")
			return nil
		}

		t := table.New().
			Border(lipgloss.RoundedBorder()).
			BorderStyle(lipgloss.NewStyle().Foreground(colSubtle)).
			StyleFunc(func(row, col int) lipgloss.Style {
				if row == table.HeaderRow {
					return lipgloss.NewStyle().Foreground(colPrimary).Bold(true).Padding(0, 1)
				}
				if col == 0 {
					return lipgloss.NewStyle().Foreground(colInfo).Padding(0, 1)
				}
				return lipgloss.NewStyle().Padding(0, 1)
			}).
			Headers("SEAT", "TYPE", "NODE", "FLAGS").
			Rows(rows...)

		fmt.Println(t)
		return nil
	},
}

func flagString(f monitor.DevFlags) string {
	var parts []string
	if f&monitor.FlagPrimary != 0 {
		parts = append(parts, "primary")
	}
	if f&monitor.FlagDRMBacked != 0 {
		parts = append(parts, "drm-backed")
	}
	if f&monitor.FlagAux != 0 {
		parts = append(parts, "aux")
	}
	if len(parts) == 0 {
		return "-"
	}
	return strings.Join(parts, ",")
}

func seatRules() []monitor.SeatRule {
	var rules []monitor.SeatRule
	for _, r := range config.Get().Monitor.SeatRules {
		rules = append(rules, monitor.SeatRule{Seat: r.Seat, Pattern: r.Pattern})
	}
	return rules
}
