// Package words implements the custom word list commands. Words are stored
// lower-cased and trimmed in the configuration file.
package words

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/haramshield/haramshield-go/internal/conf"
	"github.com/haramshield/haramshield-go/internal/config"
)

// Command creates the words command group.
func Command(ctx *config.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "words",
		Short: "Manage custom blocked words",
	}

	add := &cobra.Command{
		Use:   "add <word>...",
		Short: "Add custom words",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			next, err := ctx.Store.Update(func(s *conf.Settings) {
				s.Keywords.Custom = append(s.Keywords.Custom, args...)
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d custom words\n", len(next.Keywords.Custom))
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <word>...",
		Short: "Remove custom words",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			drop := conf.NormalizeWords(args)
			next, err := ctx.Store.Update(func(s *conf.Settings) {
				s.Keywords.Custom = slices.DeleteFunc(s.Keywords.Custom, func(w string) bool {
					return slices.Contains(drop, w)
				})
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d custom words\n", len(next.Keywords.Custom))
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List custom words",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			for _, w := range ctx.Settings().Keywords.Custom {
				fmt.Fprintln(cmd.OutOrStdout(), w)
			}
		},
	}

	cmd.AddCommand(add, remove, list)
	return cmd
}
