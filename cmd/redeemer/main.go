package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/enkrypt/steam-redeemer/internal/export"
)

// Version information (set at build time with -ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

var (
	flagAuto      bool
	flagRevealAll bool
)

var rootCmd = &cobra.Command{
	Use:     "redeemer",
	Short:   "Redeemer - bulk Humble Bundle key redemption on Steam",
	Long:    `Redeemer signs into Humble Bundle and Steam, finds every unredeemed Steam key in your Humble library, filters out what you already own, and activates the rest.`,
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runRedeem(cmd.Context())
	},
	SilenceUsage: true,
}

var exportOpts export.Options

var exportOwnership bool

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export your Humble key library to CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runExport(cmd.Context())
	},
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Redeemer %s\n", Version)
		if BuildTime != "unknown" {
			fmt.Printf("Built: %s\n", BuildTime)
		}
		if GitCommit != "unknown" {
			fmt.Printf("Commit: %s\n", GitCommit)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagAuto, "auto", false, "non-interactive mode: reuse saved sessions, never prompt")
	rootCmd.Flags().BoolVar(&flagRevealAll, "reveal-all", false, "without ownership detection, attempt unrevealed keys too (revealing burns their gift links)")

	exportCmd.Flags().BoolVar(&exportOpts.SteamOnly, "steam-only", false, "export only Steam keys")
	exportCmd.Flags().BoolVar(&exportOpts.Revealed, "revealed", true, "include revealed keys")
	exportCmd.Flags().BoolVar(&exportOpts.Unrevealed, "unrevealed", false, "include unrevealed keys")
	exportCmd.Flags().BoolVar(&exportOpts.Reveal, "reveal", false, "reveal unrevealed keys before export (irreversible)")
	exportCmd.Flags().BoolVar(&exportOwnership, "ownership", false, "sign into Steam and annotate ownership")

	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
