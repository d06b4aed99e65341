package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-processor/internal/config"
	"github.com/oshokin/alarm-processor/internal/service/processor"
	"github.com/oshokin/alarm-processor/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// options collects the flags that override the configuration file.
	options processor.Options

	// rootCmd represents the base command for running the processor.
	rootCmd = &cobra.Command{
		Use:   "alarm-processor",
		Short: "Compute the effective state of alarms.",
		Long: `Runs the alarm effective-state pipeline.

Classes, registrations, raw activations and operator overrides are accepted
over HTTP. Every alarm update passes through the latch, delay, one-shot shelve,
mask cascade and effective state stages; results are written to the journal
under the data directory and served back over HTTP. Expired shelve and delay
overrides are removed by a periodic sweep.`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options.ConfigPath = configPath

			return processor.Run(ctx, &options)
		},
	}
)

// Execute runs the alarm-processor CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(healthCmd, initConfigCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")

	flags := rootCmd.Flags()
	flags.StringVarP(&options.DataDir, "data-dir", "d", "", "directory holding the journal")
	flags.StringVar(&options.HTTPAddress, "http-address", "", "HTTP API listen address")
	flags.StringVar(&options.GRPCAddress, "grpc-address", "", "gRPC health listen address")
	flags.IntVarP(&options.Partitions, "partitions", "p", 0, "number of partition workers")
	flags.StringVarP(&options.LogLevel, "log-level", "l", "", "log level: debug, info, warn, error")
}
