package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"tfsbroker/internal/broker"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show effective broker settings",
	Long: `Prints the broker settings as YAML: the embedded defaults merged with the
--config file when one is given. The output is a valid settings file.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

var configPath string

func init() {
	configCmd.Flags().StringVar(&configPath, "config", "", "Path to a broker settings file")
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := broker.LoadConfig(configPath)
	if err != nil {
		return err
	}
	if err := cfg.FS.Validate(); err != nil {
		return err
	}
	out, err := cfg.Marshal()
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}
