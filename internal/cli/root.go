// ABOUTME: Root command and CLI setup for the riff pipeline runner
// ABOUTME: Configures global flags, subcommands, and application initialization

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/riffml/riff/pkg/types"
	"github.com/riffml/riff/pkg/utils"
)

var (
	cfgFile        string
	verboseMode    bool
	quietMode      bool
	format         string
	historyDir     string
	artifactDir    string
	cacheDir       string
	maxConcurrency int
	logger         types.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "riff",
	Short: "A pipeline runner for reproducible ML and data projects",
	Long: `Riff executes declarative multi-step pipelines described by a riff.yaml
project manifest, with support for:

• Parallel step execution with dependency resolution
• Hierarchical YAML configuration with -P dotted-key overrides
• Step entry points with typed, defaulted parameters
• Versioned artifact tracking and step chaining (name:latest, name:v2)
• Remote execution of tagged project repositories
• Template evaluation using Sprig functions
• Run history with queryable records and statistics

Examples:
  riff run .                            Execute the pipeline in the current directory
  riff run . -P main.project_name=test  Override a config value
  riff run -v 1.0.1 https://github.com/org/pipeline.git
  riff plan .                           Show the execution plan
  riff validate .                       Validate project structure
  riff serve --port 8080                Start webhook server mode`,
	Version: "0.1.0",
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)

	// Global flags. --verbose takes no shorthand so that subcommands can
	// use -v for --version (as in `riff run -v 1.0.1 <url>`).
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.riff.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verboseMode, "verbose", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&quietMode, "quiet", "q", false, "enable quiet mode (only errors)")
	rootCmd.PersistentFlags().StringVar(&format, "format", "text", "output format (text, json)")
	rootCmd.PersistentFlags().StringVar(&historyDir, "history-dir", "", "history storage location (local path, s3://, sftp://, etc.)")
	rootCmd.PersistentFlags().StringVar(&artifactDir, "artifact-dir", "", "artifact storage location (local path, s3://, sftp://, etc.)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "remote project cache directory")
	rootCmd.PersistentFlags().IntVar(&maxConcurrency, "max-concurrency", 0, "maximum parallel steps per layer (0 uses the default)")

	// Bind flags to viper
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("quiet", rootCmd.PersistentFlags().Lookup("quiet"))
	_ = viper.BindPFlag("format", rootCmd.PersistentFlags().Lookup("format"))
	_ = viper.BindPFlag("history-dir", rootCmd.PersistentFlags().Lookup("history-dir"))
	_ = viper.BindPFlag("artifact-dir", rootCmd.PersistentFlags().Lookup("artifact-dir"))
	_ = viper.BindPFlag("cache-dir", rootCmd.PersistentFlags().Lookup("cache-dir"))
	_ = viper.BindPFlag("max-concurrency", rootCmd.PersistentFlags().Lookup("max-concurrency"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		// Search config in home directory with name ".riff" (without extension).
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".riff")
	}

	// Read in environment variables that match
	viper.AutomaticEnv()
	viper.SetEnvPrefix("RIFF")

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil && verboseMode {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// initLogger initializes the global logger based on flags
func initLogger() {
	level := utils.InfoLevel

	// Determine log level from flags
	if viper.GetBool("verbose") {
		level = utils.DebugLevel
	} else if viper.GetBool("quiet") {
		level = utils.ErrorLevel
	}

	// Create logger based on output format
	if viper.GetString("format") == "json" {
		logger = utils.NewJSONLogger(level, os.Stderr)
	} else {
		logger = utils.NewLogger(level, os.Stderr)
	}
}

// GetLogger returns the global logger instance
func GetLogger() types.Logger {
	if logger == nil {
		initLogger()
	}
	return logger
}
