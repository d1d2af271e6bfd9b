package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"tfsbroker/internal/broker"
)

var brokerCmd = &cobra.Command{
	Use:   "broker <register_pipe> [max_sessions]",
	Short: "Run the message broker",
	Long: `Runs the broker in the foreground, serving registrations on the named pipe
until interrupted. Settings come from the embedded defaults, then the --config
file, then the command line.

Examples:
  # Serve /tmp/reg with 8 concurrent sessions
  tfsbroker broker /tmp/reg 8

  # Use a settings file and debug logging
  tfsbroker broker /tmp/reg --config broker.yaml --logging debug`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runBroker,
}

var (
	brokerConfigPath string
	brokerMaxBoxes   int
	brokerLogFile    string
)

func init() {
	brokerCmd.Flags().StringVar(&brokerConfigPath, "config", "", "Path to a broker settings file")
	brokerCmd.Flags().IntVar(&brokerMaxBoxes, "max-boxes", 0, "Maximum number of boxes (overrides settings)")
	brokerCmd.Flags().StringVar(&brokerLogFile, "log-file", "", "Write logs to this file instead of stderr")
	rootCmd.AddCommand(brokerCmd)
}

// brokerConfig merges the settings file with command-line overrides.
func brokerConfig(cmd *cobra.Command, args []string) (*broker.Config, error) {
	cfg, err := broker.LoadConfig(brokerConfigPath)
	if err != nil {
		return nil, err
	}
	cfg.RegisterPipe = args[0]
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return nil, fmt.Errorf("max_sessions must be a positive integer, got %q", args[1])
		}
		cfg.MaxSessions = n
	}
	if cmd.Flags().Changed("max-boxes") {
		cfg.MaxBoxes = brokerMaxBoxes
	}
	if cmd.Flags().Changed("logging") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("log-file") {
		cfg.LogFile = brokerLogFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runBroker(cmd *cobra.Command, args []string) error {
	cfg, err := brokerConfig(cmd, args)
	if err != nil {
		return err
	}

	closer, err := broker.ConfigureLogging(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}

	b, err := broker.New(*cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return b.Run(ctx)
}
