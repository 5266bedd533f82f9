package main

import (
	"fmt"
	"io"
	"os"

	"github.com/logrusorgru/aurora"
	"github.com/spf13/cobra"

	"gstate/internal/smt"
)

var (
	BuildBranch  string
	BuildVersion string
	BuildTime    string
	Builder      string
)

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "show version",
	Long:  ``,
	Run: func(*cobra.Command, []string) {
		printVersion(os.Stdout, aurora.NewAurora(true))
	},
}

func printVersion(w io.Writer, au aurora.Aurora) {
	rows := [][2]string{
		{"BuildBranch", BuildBranch},
		{"BuildVersion", BuildVersion},
		{"BuildTime", BuildTime},
		{"Builder", Builder},
	}
	for _, backend := range smt.Backends() {
		rows = append(rows, [2]string{"Backend", backend})
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s %s\n", au.Cyan(fmt.Sprintf("%-16s", row[0])), row[1])
	}
}
