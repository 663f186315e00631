// Package tamper implements the anti-tamper maintenance commands.
package tamper

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haramshield/haramshield-go/internal/config"
	"github.com/haramshield/haramshield-go/internal/events"
	"github.com/haramshield/haramshield-go/internal/guard"
)

// Command creates the tamper command group.
func Command(ctx *config.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tamper",
		Short: "Inspect or reset the tamper counter",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the tamper counter",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			g := guard.NewTamper(ctx.Store, nil, events.Discard{})
			fmt.Fprintf(cmd.OutOrStdout(), "attempts: %d\nhardened: %t\ndisable delay: %s\n",
				g.Attempts(), g.Hardened(), g.RequiredDisableDelay())
		},
	}

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Reset the tamper counter",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := guard.NewTamper(ctx.Store, nil, events.Discard{}).Reset(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "tamper counter reset")
			return nil
		},
	}

	cmd.AddCommand(status, reset)
	return cmd
}
