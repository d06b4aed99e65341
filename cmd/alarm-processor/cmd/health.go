package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/oshokin/alarm-processor/internal/config"
	"github.com/oshokin/alarm-processor/internal/service/common"
	"github.com/oshokin/alarm-processor/internal/service/processor"
)

var (
	// healthTimeout bounds the health check.
	healthTimeout time.Duration

	errNoGRPCAddress = errors.New("no grpc address configured")

	// healthCmd checks a running processor over gRPC.
	healthCmd = &cobra.Command{
		Use:   "health [address]",
		Short: "Check whether a running processor is serving.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			address, err := healthAddress(args)
			if err != nil {
				return err
			}

			client, err := common.Dial(cmd.Context(), address, common.WithCallTimeout(healthTimeout))
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			if err = client.Check(cmd.Context(), processor.HealthService); err != nil {
				return err
			}

			cmd.Println("SERVING")

			return nil
		},
	}
)

func healthAddress(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return "", fmt.Errorf("load settings: %w", err)
	}

	if cfg.GRPCAddress == "" {
		return "", errNoGRPCAddress
	}

	return cfg.GRPCAddress, nil
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	healthCmd.Flags().DurationVarP(&healthTimeout, "timeout", "t", config.DefaultTimeout, "check timeout")
}
