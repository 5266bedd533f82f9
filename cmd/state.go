package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"gstate/internal/analysis"
	"gstate/internal/config"
)

var stateCommand = &cobra.Command{
	Use:   "state",
	Short: "print the symbolic state at the exit of every block",
	Long:  ``,
	RunE: func(*cobra.Command, []string) error {
		conf, err := loadConfig()
		if err != nil {
			return err
		}
		return printStates(os.Stdout, conf, SourceFile, FunctionName)
	},
}

func init() {
	stateCommand.Flags().StringVar(&SourceFile, "file", "", "Go source file")
	stateCommand.Flags().StringVar(&FunctionName, "func", "", "function, Type.Method for methods")
	_ = stateCommand.MarkFlagRequired("file")
	_ = stateCommand.MarkFlagRequired("func")
}

func printStates(w io.Writer, conf *config.Config, file, name string) error {
	methods, err := analysis.Load(file, nil, name)
	if err != nil {
		return err
	}
	s, err := analysis.NewSession(methods[0], conf, nil)
	if err != nil {
		return err
	}
	states, err := s.ExitStates()
	if err != nil {
		return err
	}
	fmt.Fprint(w, s.Method.Print())
	for _, bs := range states {
		fmt.Fprintf(w, "\n%s exit:\n%s", bs.Block, bs.State)
	}
	return nil
}
