package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/cuemby/fleetd/pkg/log"
	"github.com/cuemby/fleetd/pkg/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// defaultConfigFile is read when present and --config is not given
const defaultConfigFile = "/etc/fleetd/agent.yaml"

func main() {
	cobra.OnInitialize(initConfig)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "fleetd",
	Short: "fleetd - Pull-based host configuration agent",
	Long: `fleetd converges hosts towards the state declared in a
configuration repository: templated files, OS packages, systemd services
and long-running containers.

Agents run one convergence pass and exit, or long-poll a coordination
server for commands.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Config{
			Level:      log.ParseLevel(viper.GetString("log.level")),
			JSONOutput: viper.GetBool("log.json"),
			Output:     os.Stderr,
		})
		metrics.SetVersion(Version)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"fleetd version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Config file (default "+defaultConfigFile+" when present)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.json", rootCmd.PersistentFlags().Lookup("log-json"))

	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(reportsCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig layers FLEETD_* environment variables over the config file
func initConfig() {
	viper.SetEnvPrefix("FLEETD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()

	file, _ := rootCmd.PersistentFlags().GetString("config")
	if file != "" {
		viper.SetConfigFile(file)
	} else {
		if _, err := os.Stat(defaultConfigFile); err != nil {
			return
		}
		viper.SetConfigFile(defaultConfigFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintf(os.Stderr, "Error: failed to read config: %v\n", err)
			os.Exit(1)
		}
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("fleetd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}
