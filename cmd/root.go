// Package cmd builds the haramshield command tree.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/haramshield/haramshield-go/cmd/analyze"
	"github.com/haramshield/haramshield-go/cmd/history"
	"github.com/haramshield/haramshield-go/cmd/locks"
	"github.com/haramshield/haramshield-go/cmd/run"
	"github.com/haramshield/haramshield-go/cmd/tamper"
	"github.com/haramshield/haramshield-go/cmd/whitelist"
	"github.com/haramshield/haramshield-go/cmd/words"
	"github.com/haramshield/haramshield-go/internal/buildinfo"
	"github.com/haramshield/haramshield-go/internal/config"
)

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx := config.NewContext(buildinfo.Current())
	defer ctx.Close()

	if err := RootCommand(ctx, viper.GetViper()).Execute(); err != nil {
		return 1
	}
	return 0
}

// RootCommand creates and returns the root command. Settings are loaded
// through v before any subcommand except version runs.
func RootCommand(ctx *config.Context, v *viper.Viper) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "haramshield",
		Short:         "HaramShield content monitor",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	if err := setupFlags(rootCmd, ctx, v); err != nil {
		fmt.Fprintf(os.Stderr, "error setting up flags: %v\n", err)
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), ctx.Build.String())
		},
	}

	rootCmd.AddCommand(
		run.Command(ctx),
		analyze.Command(ctx),
		whitelist.Command(ctx),
		locks.Command(ctx),
		history.Command(ctx),
		words.Command(ctx),
		tamper.Command(ctx),
		versionCmd,
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == versionCmd.Name() {
			return nil
		}
		// flags bound to viper take precedence over the file
		ctx.Debug = v.GetBool("debug")
		return ctx.Load(v)
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface.
func setupFlags(rootCmd *cobra.Command, ctx *config.Context, v *viper.Viper) error {
	rootCmd.PersistentFlags().StringVarP(&ctx.ConfigFile, "config", "c", "", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug output")

	if err := v.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		return fmt.Errorf("error binding flags: %w", err)
	}
	return nil
}
