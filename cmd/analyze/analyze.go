// Package analyze implements the one-shot manual check command.
package analyze

import (
	"context"
	"fmt"
	"image"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haramshield/haramshield-go/internal/agent"
	"github.com/haramshield/haramshield-go/internal/config"
	"github.com/haramshield/haramshield-go/internal/detection"
	"github.com/haramshield/haramshield-go/internal/enforcement"
	"github.com/haramshield/haramshield-go/internal/source"
)

type options struct {
	pkg  string
	text string
}

// Command creates the analyze command.
func Command(ctx *config.Context) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "analyze [image]",
		Short: "Check an image and/or text once",
		Long: "Run the detectors once against an image file, text, or both, and apply " +
			"the decision to --package exactly as the monitor would. Without --text " +
			"the image's .txt sidecar is used when present.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var path string
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" && opts.text == "" {
				return fmt.Errorf("nothing to analyze: give an image path, --text, or both")
			}
			return execute(cmd.Context(), ctx, opts, path, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&opts.pkg, "package", "p", "manual.check", "Package the decision applies to")
	cmd.Flags().StringVarP(&opts.text, "text", "t", "", "Text to match instead of the sidecar")

	return cmd
}

func execute(ctx context.Context, c *config.Context, opts options, path string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := c.Datastore()
	if err != nil {
		return err
	}

	var img image.Image
	text := opts.text
	if path != "" {
		if img, err = (source.FileSource{Path: path}).Capture(ctx); err != nil {
			return err
		}
		if text == "" {
			if text, err = (source.SidecarOCR{}).Recognize(ctx, img); err != nil {
				return err
			}
		}
	}

	a, err := agent.New(c.Store, db, agent.Options{
		Frames:  source.FileSource{Path: path},
		Metrics: c.Metrics,
		Offline: true,
	})
	if err != nil {
		return err
	}

	summary, decision := a.Analyze(ctx, opts.pkg, img, text)
	printReport(out, summary, decision)
	return decision.Err
}

func printReport(out io.Writer, summary detection.Summary, decision enforcement.Decision) {
	for _, r := range summary.Results {
		if r.Detector == "" {
			continue
		}
		fmt.Fprintf(out, "  %-10s %s\n", r.Detector, r.String())
	}
	if !summary.HasViolation {
		fmt.Fprintln(out, "result: clean")
		return
	}

	fmt.Fprintf(out, "result: %s (%s, %.2f)\n",
		decision.Outcome, summary.Highest.Category, summary.Highest.Confidence)
	if decision.Lock != nil {
		fmt.Fprintf(out, "locked until %s\n", decision.Lock.Until().Format("15:04:05"))
	}
	if len(summary.Categories()) > 1 {
		names := make([]string, 0, len(summary.Categories()))
		for _, c := range summary.Categories() {
			names = append(names, string(c))
		}
		fmt.Fprintf(out, "categories: %s\n", strings.Join(names, ", "))
	}
}
