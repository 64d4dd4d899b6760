package cmd

import (
	"fmt"
	"os"

	"github.com/geekxflood/common/config"
	"github.com/geekxflood/common/logging"
	"github.com/spf13/cobra"

	"github.com/geekxflood/proteus/internal/agent"
	"github.com/geekxflood/proteus/internal/discovery"
	"github.com/geekxflood/proteus/internal/listener"
	"github.com/geekxflood/proteus/internal/loader"
	"github.com/geekxflood/proteus/internal/metrics"
	"github.com/geekxflood/proteus/internal/mib"
	"github.com/geekxflood/proteus/internal/registry"
	"github.com/geekxflood/proteus/internal/reload"
	"github.com/geekxflood/proteus/internal/retry"
	"github.com/geekxflood/proteus/internal/storage"
	"github.com/geekxflood/proteus/internal/validator"
)

var objectsDir string

// validateCmd represents the validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration and object definitions",
	Long: `Validate the configuration file against its schema, check every section
for values the agent cannot run with, and compile the object definitions
into a registry the way the agent does at startup.`,
	Example: `# Validate configuration file
	proteus validate --config config.yaml

	# Validate against a different definitions directory
	proteus validate --config config.yaml --objects ./objects`,
	RunE: validateConfig,
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&objectsDir, "objects", "", "Object definitions directory (default: objects.directory)")
}

func validateConfig(cmd *cobra.Command, args []string) error {
	manager, configPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	defer manager.Close()

	provider, ok := manager.(config.Provider)
	if !ok {
		return fmt.Errorf("config manager does not implement Provider interface")
	}

	out := cmd.OutOrStdout()
	if configPath != "" {
		fmt.Fprintf(out, "✓ %s matches the configuration schema\n", configPath)
	}

	if err := validateSections(provider); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}
	fmt.Fprintln(out, "✓ Configuration values are valid")

	count, files, err := validateObjects(provider)
	if err != nil {
		return fmt.Errorf("object validation failed: %w", err)
	}
	fmt.Fprintf(out, "✓ %d objects from %d files registered without conflicts\n", count, files)

	fmt.Fprintln(out, "✓ Validation completed successfully")
	return nil
}

// validateSections loads every configuration section the way the agent
// does and runs its checks.
func validateSections(provider config.Provider) error {
	agentConfig, err := agent.LoadConfig(provider)
	if err != nil {
		return err
	}
	if err := agentConfig.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	listenerConfig, err := listener.LoadConfig(provider)
	if err != nil {
		return err
	}
	if _, err := validator.NewSourcePolicy(listenerConfig.AllowedSources, listenerConfig.BlockedSources); err != nil {
		return fmt.Errorf("agent: %w", err)
	}

	if _, err := mib.LoadSystemConfig(provider); err != nil {
		return err
	}
	if _, err := storage.LoadStorageConfig(provider); err != nil {
		return err
	}
	if _, err := reload.LoadReloadConfig(provider); err != nil {
		return err
	}
	if _, err := retry.LoadRetryConfig(provider); err != nil {
		return err
	}
	if _, err := metrics.LoadMetricsConfig(provider); err != nil {
		return err
	}
	if _, err := discovery.LoadDiscoveryConfig(provider); err != nil {
		return err
	}
	return nil
}

// validateObjects compiles the definitions and installs them next to the
// system group in a scratch registry.
func validateObjects(provider config.Provider) (int, int, error) {
	agentConfig, err := agent.LoadConfig(provider)
	if err != nil {
		return 0, 0, err
	}
	loaderConfig, err := loader.LoadLoaderConfig(provider)
	if err != nil {
		return 0, 0, err
	}
	if objectsDir != "" {
		loaderConfig.Directory = objectsDir
	}
	if loaderConfig.Directory != "" {
		if _, err := os.Stat(loaderConfig.Directory); err != nil {
			return 0, 0, fmt.Errorf("objects directory: %w", err)
		}
	}

	logger, _, err := logging.NewLogger(logging.Config{Level: "warn", Format: "text"})
	if err != nil {
		return 0, 0, err
	}

	reg, err := registry.New(agentConfig.OIDPrefix)
	if err != nil {
		return 0, 0, err
	}
	systemConfig, err := mib.LoadSystemConfig(provider)
	if err != nil {
		return 0, 0, err
	}
	if err := mib.NewSystem(systemConfig).Register(reg); err != nil {
		return 0, 0, err
	}

	l, err := loader.NewLoader(loaderConfig, logger)
	if err != nil {
		return 0, 0, err
	}
	set, err := l.LoadAll()
	if err != nil {
		return 0, 0, err
	}
	if err := set.Install(reg, nil); err != nil {
		return 0, 0, err
	}
	return set.Len(), len(set.Files), nil
}
