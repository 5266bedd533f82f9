package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/logrusorgru/aurora"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"gstate/internal/analysis"
	"gstate/internal/cache"
	"gstate/internal/config"
)

var (
	SourceFile   string
	FunctionName string
	Solver       string
	Timeout      int
	Workers      int
	UseCache     bool
	NoColor      bool
)

var analyzeCommand = &cobra.Command{
	Use:   "analyze",
	Short: "analyze the functions of a Go source file",
	Long:  ``,
	RunE: func(cmd *cobra.Command, _ []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		overrideConfig(cmd, conf)
		if err := conf.Validate(); err != nil {
			return err
		}
		return analyzeExec(conf)
	},
}

func init() {
	analyzeCommand.Flags().StringVar(&SourceFile, "file", "", "Go source file")
	analyzeCommand.Flags().StringVar(&FunctionName, "func", "", "only analyze this function, Type.Method for methods")
	analyzeCommand.Flags().StringVar(&Solver, "solver", "", "solver backend, yices or z3")
	analyzeCommand.Flags().IntVar(&Timeout, "timeout", 0, "solver timeout in milliseconds")
	analyzeCommand.Flags().IntVar(&Workers, "workers", 0, "concurrent method sessions")
	analyzeCommand.Flags().BoolVar(&UseCache, "cache", false, "use the verdict cache")
	analyzeCommand.Flags().BoolVar(&NoColor, "no-color", false, "disable coloured output")
	_ = analyzeCommand.MarkFlagRequired("file")
}

// overrideConfig applies the flags set on the command line.
func overrideConfig(cmd *cobra.Command, conf *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("solver") {
		conf.Solver = Solver
	}
	if flags.Changed("timeout") {
		conf.Timeout = Timeout
	}
	if flags.Changed("workers") {
		conf.Workers = Workers
	}
	if flags.Changed("cache") {
		conf.Cache.Enabled = UseCache
	}
}

func analyzeExec(conf *config.Config) error {
	methods, err := analysis.Load(SourceFile, nil, FunctionName)
	if err != nil {
		return err
	}

	var store *cache.Store
	if conf.Cache.Enabled {
		if store, err = cache.Open(conf.Cache.Path); err != nil {
			return err
		}
		defer store.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	report, err := analysis.NewAnalyzer(conf, store).Run(ctx, methods)
	if err != nil {
		return err
	}

	au := aurora.NewAurora(!NoColor)
	for _, is := range report.Issues {
		fmt.Println(is.Render(au))
	}
	for _, name := range report.SkippedMethods() {
		log.Warnf("skipped %s: %v", name, report.Skipped[name])
	}
	fmt.Printf("%d issues in %d methods, analyze time used: %.2fs\n",
		len(report.Issues), report.Methods, report.Elapsed.Seconds())
	return nil
}
