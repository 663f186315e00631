// Package history implements the violation log command.
package history

import (
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haramshield/haramshield-go/internal/config"
	"github.com/haramshield/haramshield-go/internal/datastore"
)

type options struct {
	limit int
	pkg   string
	stats int
}

// Command creates the history command.
func Command(ctx *config.Context) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show the violation log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := ctx.Datastore()
			if err != nil {
				return err
			}
			repo := db.Violations()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)

			if opts.stats > 0 {
				counts, err := repo.CountByCategory(cmd.Context(), time.Now().AddDate(0, 0, -opts.stats))
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "CATEGORY\tCOUNT")
				for _, c := range slices.Sorted(maps.Keys(counts)) {
					fmt.Fprintf(w, "%s\t%d\n", c, counts[c])
				}
				return w.Flush()
			}

			var entries []datastore.ViolationLog
			if opts.pkg != "" {
				entries, err = repo.ForPackage(cmd.Context(), opts.pkg, opts.limit)
			} else {
				entries, err = repo.Recent(cmd.Context(), opts.limit)
			}
			if err != nil {
				return err
			}

			fmt.Fprintln(w, "TIME\tPACKAGE\tCATEGORY\tCONFIDENCE\tDETAIL")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\n", e.At().Format(time.DateTime),
					e.PackageName, e.Category, e.Confidence, e.Detail)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 50, "Maximum number of entries")
	cmd.Flags().StringVarP(&opts.pkg, "package", "p", "", "Only show entries for this package")
	cmd.Flags().IntVar(&opts.stats, "stats", 0, "Show per-category counts over this many days instead")

	return cmd
}
