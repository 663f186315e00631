// Package whitelist implements the whitelist management commands.
package whitelist

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haramshield/haramshield-go/internal/config"
	"github.com/haramshield/haramshield-go/internal/datastore"
)

// Command creates the whitelist command group.
func Command(ctx *config.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage packages exempt from enforcement",
	}

	var label string
	add := &cobra.Command{
		Use:   "add <package>",
		Short: "Whitelist a package and clear its lock",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.Datastore()
			if err != nil {
				return err
			}
			entry := &datastore.WhitelistedApp{
				PackageName: args[0],
				AppLabel:    label,
				AddedAt:     time.Now().UnixMilli(),
			}
			if err := db.Whitelist().Add(cmd.Context(), entry); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "whitelisted %s\n", args[0])
			return nil
		},
	}
	add.Flags().StringVar(&label, "label", "", "Display name of the application")

	remove := &cobra.Command{
		Use:   "remove <package>",
		Short: "Remove a package from the whitelist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := ctx.Datastore()
			if err != nil {
				return err
			}
			if err := db.Whitelist().Remove(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List whitelisted packages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := ctx.Datastore()
			if err != nil {
				return err
			}
			apps, err := db.Whitelist().List(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PACKAGE\tLABEL\tADDED")
			for _, a := range apps {
				fmt.Fprintf(w, "%s\t%s\t%s\n", a.PackageName, a.AppLabel,
					time.UnixMilli(a.AddedAt).Format(time.DateTime))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}
