// Package cmd provides the command-line interface for proteus.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/geekxflood/common/config"
	"github.com/geekxflood/common/logging"
	"github.com/spf13/cobra"

	"github.com/geekxflood/proteus/internal/app"
)

var (
	cfgFile string
	version = "dev" // Will be set by build flags
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "proteus",
	Version: version,
	Short:   "Lightweight SNMP v1/v2c agent",
	Long: `Proteus is a small SNMP v1/v2c agent. It serves the MIB-II system group
and object definitions loaded from CUE files, persists written values and
reloads definitions without a restart.`,
	Example: `# Start the agent with the default config search path
	proteus

	# Start with a specific configuration file
	proteus --config /etc/proteus/config.yaml

	# Generate a sample configuration
	proteus generate --output config.yaml

	# Query a running agent
	proteus get --target 127.0.0.1 .1.3.6.1.2.1.1.5.0`,
	RunE: runServer,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	manager, configPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	defer manager.Close()

	provider, ok := manager.(config.Provider)
	if !ok {
		return fmt.Errorf("config manager does not implement Provider interface")
	}

	logger, err := newLogger(provider)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}

	appConfig := app.DefaultAppConfig()
	appConfig.Version = version
	appConfig.ConfigFile = configPath

	application, err := app.NewApplication(provider, appConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	if err := application.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		return errors.Join(fmt.Errorf("failed to start application: %w", err), application.Shutdown())
	}

	runErr := application.Run(ctx)
	logger.Info("Shutting down")
	return errors.Join(runErr, application.Shutdown())
}

// loadConfig resolves the configuration file, checks it against the
// embedded schema and opens a manager on it. The returned path is empty
// when no file was found.
func loadConfig() (config.Manager, string, error) {
	configPath := cfgFile
	if configPath == "" {
		defaultPaths := []string{
			"config.yaml",
			"config.yml",
			"/etc/proteus/config.yaml",
			"/etc/proteus/config.yml",
		}
		for _, path := range defaultPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}

	if configPath == "" {
		fmt.Fprintln(os.Stderr, "No configuration file found, using built-in defaults")
	} else {
		if err := validateConfigFile(configPath); err != nil {
			return nil, "", err
		}
		fmt.Fprintf(os.Stderr, "Loading configuration from: %s\n", configPath)
	}

	manager, err := config.NewManager(config.Options{ConfigPath: configPath})
	if err != nil {
		return nil, "", fmt.Errorf("failed to create config manager: %w", err)
	}
	return manager, configPath, nil
}

func newLogger(provider config.Provider) (logging.Logger, error) {
	level, err := provider.GetString("logging.level", "info")
	if err != nil {
		return nil, fmt.Errorf("failed to get logging level: %w", err)
	}
	format, err := provider.GetString("logging.format", "json")
	if err != nil {
		return nil, fmt.Errorf("failed to get logging format: %w", err)
	}

	logger, _, err := logging.NewLogger(logging.Config{Level: level, Format: format})
	if err != nil {
		return nil, err
	}
	return logger, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "Configuration file path")
}
