package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "voipms-sms",
	Short:         "Synchronizes, stores and sends VoIP.ms SMS messages",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "voipms-sms %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "Path to configuration file")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "Enable verbose logging (includes phone numbers and message text)")

	rootCmd.AddCommand(
		serveCmd,
		syncCmd,
		sendCmd,
		didsCmd,
		verifyCmd,
		exportCmd,
		importCmd,
		versionCmd,
	)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}
