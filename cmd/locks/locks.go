// Package locks implements the lock inspection and maintenance commands.
package locks

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haramshield/haramshield-go/internal/config"
)

// Command creates the locks command group.
func Command(ctx *config.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locks",
		Short: "Inspect and maintain application locks",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List active locks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := ctx.Datastore()
			if err != nil {
				return err
			}
			now := time.Now()
			locks, err := db.Locks().ListActive(cmd.Context(), now)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PACKAGE\tCATEGORY\tCONFIDENCE\tUNTIL\tREMAINING")
			for _, l := range locks {
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\n", l.PackageName, l.Category, l.Confidence,
					l.Until().Format(time.DateTime), l.Remaining(now).Round(time.Second))
			}
			return w.Flush()
		},
	}

	unlock := &cobra.Command{
		Use:   "unlock <package>",
		Short: "Remove the lock on a package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.Datastore()
			if err != nil {
				return err
			}
			if err := db.Locks().Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "unlocked %s\n", args[0])
			return nil
		},
	}

	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired locks now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := ctx.Datastore()
			if err != nil {
				return err
			}
			n, err := db.Locks().SweepExpired(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "swept %d expired locks\n", n)
			return nil
		},
	}

	cmd.AddCommand(list, unlock, sweep)
	return cmd
}
