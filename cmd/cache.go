package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gstate/internal/cache"
	"gstate/internal/smt"
)

var CachePath string

var cacheCommand = &cobra.Command{
	Use:   "cache",
	Short: "inspect the verdict cache",
	Long:  ``,
}

var cacheListCommand = &cobra.Command{
	Use:   "list",
	Short: "list cached verdicts",
	RunE: func(*cobra.Command, []string) error {
		store, err := openCache()
		if err != nil {
			return err
		}
		defer store.Close()
		return listCache(os.Stdout, store)
	},
}

var cacheClearCommand = &cobra.Command{
	Use:   "clear",
	Short: "remove every cached verdict",
	RunE: func(*cobra.Command, []string) error {
		store, err := openCache()
		if err != nil {
			return err
		}
		defer store.Close()
		return store.Clear()
	},
}

func init() {
	cacheCommand.PersistentFlags().StringVar(&CachePath, "path", "", "cache file, defaults to cache.path of the configuration")
	cacheCommand.AddCommand(cacheListCommand)
	cacheCommand.AddCommand(cacheClearCommand)
}

func openCache() (*cache.Store, error) {
	conf, err := loadConfig()
	if err != nil {
		return nil, err
	}
	path := conf.Cache.Path
	if CachePath != "" {
		path = CachePath
	}
	return cache.Open(path)
}

func listCache(w io.Writer, store *cache.Store) error {
	entries, err := store.List()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "KEY\tSOLVER\tMODE\tSTATUS\tSESSION\tRECORDED\tQUERY")
	for _, e := range entries {
		status := smt.Status(e.Status).String()
		if e.Reason != "" {
			status += " (" + e.Reason + ")"
		}
		fmt.Fprintf(tw, "%016x\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Key, e.Solver, e.Mode, status, e.Session,
			time.Unix(e.Recorded, 0).UTC().Format(time.RFC3339), e.Query)
	}
	return tw.Flush()
}
