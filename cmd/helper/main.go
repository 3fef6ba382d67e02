// Command helper runs one IPA helper node: the HTTPS listener
// exposing the Query API and the helper-to-helper API, backed by the
// query processor, gateway, and protocol registry of this module. The
// `serve` subcommand's --config flag names a YAML file holding the
// listen address, TLS material paths, and peer identity table; these
// are not separate command-line flags. Exit code is 0 on clean
// shutdown and non-zero on bind/config failure.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ipaproto/helper/pkg/log"
)

// Version information, set via ldflags during build.
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "helper",
	Short: "helper runs one node of a three-party IPA attribution cluster",
	Long: `helper is the runtime for one of the three mutually distrustful
MPC helper nodes that jointly compute private attribution metrics.
It exposes a single HTTPS listener carrying both the collector-facing
Query API and the mutually authenticated helper-to-helper API.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"helper version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")

	log.Init(log.Config{
		Level:      log.Level(logLevel),
		JSONOutput: logJSON,
	})
}
