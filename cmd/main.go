package main

import (
	goflag "flag"
	"fmt"
	"os"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"gstate/internal/config"
	_ "gstate/internal/smt/yices"
	_ "gstate/internal/smt/z3"
)

var (
	ConfigFile string
	LogLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "gstate",
	Short: "gstate, symbolic state construction and SMT checking for Go methods",
	Long:  "",
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&ConfigFile, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&LogLevel, "log-level", "", "log level, overrides the configuration")
}

// loadConfig reads --config over the defaults and applies the log level.
func loadConfig() (*config.Config, error) {
	conf := config.Default()
	if ConfigFile != "" {
		var err error
		if conf, err = config.Load(ConfigFile); err != nil {
			return nil, err
		}
	}
	if LogLevel != "" {
		conf.Log.Level = LogLevel
	}
	level, err := log.ParseLevel(conf.Log.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level")
	}
	log.SetLevel(level)
	return conf, nil
}

func main() {
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)

	rootCmd.AddCommand(versionCommand)
	rootCmd.AddCommand(analyzeCommand)
	rootCmd.AddCommand(stateCommand)
	rootCmd.AddCommand(dotCommand)
	rootCmd.AddCommand(cacheCommand)

	if err := rootCmd.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
