// Package cli implements the auditstream command tree.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/yairfalse/auditstream/pkg/config"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "auditstream",
	Short: "Kernel audit record collector and event correlator",
	Long: `auditstream ingests the Linux kernel audit record stream, groups the
records describing one kernel action into complete events, and delivers
those events to files, NATS JetStream, or a local SQLite archive.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath("/etc/auditstream")
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("auditstream")
	}

	viper.SetEnvPrefix("AUDITSTREAM")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig reads the service configuration, honoring --config and any
// file viper discovered in the default search path.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = viper.ConfigFileUsed()
	}
	return config.Load(path)
}

// buildLogger constructs the process logger. --verbose forces the
// development logger regardless of config.
func buildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	if verbose || cfg.Development {
		return zap.NewDevelopment()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}
