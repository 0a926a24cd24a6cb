// Command carlink drives a USB CarPlay/Android Auto dongle.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ardnew/carlink/pkg"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// globalFlags are the persistent flags of the root command.
type globalFlags struct {
	logLevel string
	logJSON  bool
	backend  string
}

func main() {
	var flags globalFlags

	rootCmd := &cobra.Command{
		Use:   "carlink",
		Short: "Drive a USB CarPlay/Android Auto dongle",
		Long: `carlink talks to a CarPlay/Android Auto relay dongle over USB.

It performs the session handshake, keeps the session alive, and relays
decoded video, audio and status messages to WebSocket clients, which can
send touch and command input back to the phone.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, ok := pkg.ParseLogLevel(flags.logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", flags.logLevel)
			}
			if flags.logJSON {
				pkg.SetLogFormat(pkg.LogFormatJSON)
			}
			pkg.SetLogLevel(level)
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	pf.BoolVar(&flags.logJSON, "log-json", false, "Log as JSON")
	pf.StringVar(&flags.backend, "backend", defaultBackend, "USB backend ("+backendNames+")")

	rootCmd.AddCommand(
		runCmd(&flags),
		devicesCmd(&flags),
		replayCmd(),
		configCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
