// Package run implements the long-running monitor command.
package run

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haramshield/haramshield-go/internal/agent"
	"github.com/haramshield/haramshield-go/internal/config"
	"github.com/haramshield/haramshield-go/internal/source"
)

type options struct {
	frames string
	ocr    bool
	focus  string
}

// Command creates the run command.
func Command(ctx *config.Context) *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the monitor",
		Long: "Monitor the foreground application. Focus events are read one per line " +
			"from --focus as \"package\" or \"package|visible text\"; frames are taken " +
			"from the newest image in --frames.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return execute(cmd.Context(), ctx, opts, cmd.InOrStdin())
		},
	}

	cmd.Flags().StringVar(&opts.frames, "frames", "frames", "Directory the screen frames are written to")
	cmd.Flags().BoolVar(&opts.ocr, "ocr", true, "Read recognised text from <frame>.txt sidecar files")
	cmd.Flags().StringVar(&opts.focus, "focus", "-", "Focus event input, - for stdin")

	return cmd
}

func execute(parent context.Context, ctx *config.Context, opts options, stdin io.Reader) error {
	if parent == nil {
		parent = context.Background()
	}
	db, err := ctx.Datastore()
	if err != nil {
		return err
	}

	var ocr source.OCR
	if opts.ocr {
		ocr = source.SidecarOCR{}
	}
	a, err := agent.New(ctx.Store, db, agent.Options{
		Frames:  source.DirectorySource{Dir: opts.frames},
		OCR:     ocr,
		Metrics: ctx.Metrics,
	})
	if err != nil {
		return err
	}

	input := stdin
	if opts.focus != "-" {
		f, err := os.Open(opts.focus)
		if err != nil {
			return fmt.Errorf("open focus input: %w", err)
		}
		defer f.Close()
		input = f
	}

	runCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// a blocked stdin read cannot be interrupted; the goroutine ends with the process
	go func() {
		if err := agent.FeedFocus(runCtx, input, a.Submit); err != nil {
			fmt.Fprintf(os.Stderr, "focus input: %v\n", err)
		}
	}()

	return a.Run(runCtx)
}
