package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/geekxflood/proteus/internal/agent"
	"github.com/geekxflood/proteus/internal/app"
	"github.com/geekxflood/proteus/internal/discovery"
	"github.com/geekxflood/proteus/internal/listener"
	"github.com/geekxflood/proteus/internal/loader"
	"github.com/geekxflood/proteus/internal/metrics"
	"github.com/geekxflood/proteus/internal/mib"
	"github.com/geekxflood/proteus/internal/reload"
	"github.com/geekxflood/proteus/internal/retry"
	"github.com/geekxflood/proteus/internal/storage"
)

var (
	outputFile    string
	force         bool
	sampleObjects bool
)

// generateCmd represents the generate command
var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate sample configuration files",
	Long: `Generate a sample configuration holding the built-in defaults, or a sample
object definitions file with --objects.`,
	Example: `# Generate config to stdout
	proteus generate

	# Generate config to specific file
	proteus generate --output config.yaml

	# Generate sample object definitions
	proteus generate --objects --output objects/example.cue`,
	RunE: generateConfig,
}

func init() {
	rootCmd.AddCommand(generateCmd)

	generateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file path (default: stdout)")
	generateCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing file")
	generateCmd.Flags().BoolVar(&sampleObjects, "objects", false, "Generate object definitions instead of configuration")
}

const objectsSample = `// Object definitions served under agent.oid_prefix.
objects: [
	{oid: ".1.0", type: "integer", value: 42, description: "answer"},
	{oid: ".2.0", type: "string", value: "rack-1", settable: true, capacity: 64},
	{oid: ".3.0", type: "float", value: 21.5, settable: true},
	{oid: ".4.0", type: "counter32"},
	{oid: ".5.0", type: "gauge32", value: 7},
	{oid: ".6.0", type: "timeticks"},
	{oid: ".7.0", type: "counter64"},
	{oid: ".8.0", type: "oid", value: ".1.3.6.1.4.1.8072"},
]
`

type sampleConfig struct {
	App       map[string]any `yaml:"app"`
	Agent     map[string]any `yaml:"agent"`
	System    map[string]any `yaml:"system"`
	Objects   map[string]any `yaml:"objects"`
	Storage   map[string]any `yaml:"storage"`
	Reload    map[string]any `yaml:"reload"`
	Retry     map[string]any `yaml:"retry"`
	Metrics   map[string]any `yaml:"metrics"`
	Discovery map[string]any `yaml:"discovery"`
	Logging   map[string]any `yaml:"logging"`
}

// defaultConfig renders the compiled-in defaults in configuration file form.
func defaultConfig() sampleConfig {
	appConfig := app.DefaultAppConfig()
	agentConfig := agent.DefaultConfig()
	listenerConfig := listener.DefaultConfig()
	systemConfig := mib.DefaultSystemConfig()
	loaderConfig := loader.DefaultLoaderConfig()
	storageConfig := storage.DefaultStorageConfig()
	reloadConfig := reload.DefaultReloadConfig()
	retryConfig := retry.DefaultRetryConfig()
	metricsConfig := metrics.DefaultMetricsConfig()
	discoveryConfig := discovery.DefaultDiscoveryConfig()

	return sampleConfig{
		App: map[string]any{
			"shutdown_timeout": appConfig.ShutdownTimeout.String(),
		},
		Agent: map[string]any{
			"host":            listenerConfig.Host,
			"port":            agentConfig.Port,
			"oid_prefix":      ".1.3.6.1.4.1.99999",
			"read_community":  agentConfig.ReadCommunity,
			"write_community": "private",
			"max_packet_size": agentConfig.MaxPacketSize,
			"read_buffer":     listenerConfig.ReadBuffer,
			"poll_interval":   agentConfig.PollInterval.String(),
			"poll_wait":       listenerConfig.PollWait.String(),
			"allowed_sources": []string{"127.0.0.1", "10.0.0.0/8"},
			"blocked_sources": []string{},
		},
		System: map[string]any{
			"description": systemConfig.Description,
			"object_id":   systemConfig.ObjectID,
			"contact":     "ops@example.com",
			"name":        "proteus",
			"location":    "rack 1",
			"services":    systemConfig.Services,
		},
		Objects: map[string]any{
			"directory":       "./objects",
			"file_extensions": loaderConfig.FileExtensions,
			"max_file_size":   loaderConfig.MaxFileSize,
		},
		Storage: map[string]any{
			"enabled":         true,
			"path":            storageConfig.Path,
			"max_connections": storageConfig.MaxConnections,
		},
		Reload: map[string]any{
			"enabled":           reloadConfig.Enabled,
			"debounce":          reloadConfig.Debounce.String(),
			"watch_config_file": reloadConfig.WatchConfigFile,
		},
		Retry: map[string]any{
			"max_attempts":       retryConfig.MaxAttempts,
			"initial_delay":      retryConfig.InitialDelay.String(),
			"max_delay":          retryConfig.MaxDelay.String(),
			"backoff_multiplier": retryConfig.BackoffMultiplier,
			"failure_threshold":  retryConfig.FailureThreshold,
			"open_timeout":       retryConfig.OpenTimeout.String(),
		},
		Metrics: map[string]any{
			"enabled":         metricsConfig.Enabled,
			"listen_address":  metricsConfig.ListenAddress,
			"metrics_path":    metricsConfig.MetricsPath,
			"health_path":     metricsConfig.HealthPath,
			"ready_path":      metricsConfig.ReadyPath,
			"update_interval": metricsConfig.UpdateInterval.String(),
			"namespace":       metricsConfig.Namespace,
		},
		Discovery: map[string]any{
			"enabled": discoveryConfig.Enabled,
			"service": discoveryConfig.Service,
			"domain":  discoveryConfig.Domain,
			"ttl":     discoveryConfig.TTL.String(),
		},
		Logging: map[string]any{
			"level":  "info",
			"format": "json",
		},
	}
}

func renderConfig() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString("# Proteus SNMP agent configuration\n")
	buf.WriteString("# Generated from the built-in defaults. Every key is optional.\n\n")

	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(defaultConfig()); err != nil {
		return nil, fmt.Errorf("failed to encode configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func generateConfig(cmd *cobra.Command, args []string) error {
	var content []byte
	if sampleObjects {
		content = []byte(objectsSample)
	} else {
		var err error
		if content, err = renderConfig(); err != nil {
			return err
		}
	}

	if outputFile == "" {
		_, err := cmd.OutOrStdout().Write(content)
		return err
	}

	if _, err := os.Stat(outputFile); err == nil && !force {
		return fmt.Errorf("file %s already exists, use --force to overwrite", outputFile)
	}
	if dir := filepath.Dir(outputFile); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(outputFile, content, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outputFile, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Sample written to: %s\n", outputFile)
	return nil
}
