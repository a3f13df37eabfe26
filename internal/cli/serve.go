package cli

import (
	"fmt"

	"github.com/harun/nanobot/internal/config"
	"github.com/harun/nanobot/internal/daemon"
	"github.com/harun/nanobot/internal/logger"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the nanobot core in the foreground",
	Long: `Run the nanobot core in the foreground.
The gateway, the provider registry and the agent service stay up until
SIGINT or SIGTERM is received.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	for _, problem := range config.NewValidator().ValidateConfig(cfg) {
		cmd.PrintErrf("warning: %v\n", problem)
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	d, err := daemon.New(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(); err != nil {
		return err
	}

	cmd.Printf("nanobot core listening on %s\n", d.Status().GatewayAddr)
	d.Wait()
	return nil
}

// loadConfig reads the config file and applies the --log-level override
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}
