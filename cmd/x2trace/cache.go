package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"x2trace/internal/symcache"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the symbol cache",
}

var cacheCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove every cached symbol table",
	Args:  cobra.NoArgs,
	RunE:  runCacheClean,
}

var cacheDirCmd = &cobra.Command{
	Use:   "dir",
	Short: "Print the symbol cache directory",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		c, err := openCache()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), c.Dir())
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheCleanCmd)
	cacheCmd.AddCommand(cacheDirCmd)
}

func openCache() (*symcache.Cache, error) {
	c, err := symcache.Open(sess.cfg.Symbols.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open symbol cache: %w", err)
	}
	return c, nil
}

func runCacheClean(cmd *cobra.Command, _ []string) error {
	c, err := openCache()
	if err != nil {
		return err
	}
	if err := c.DropAll(); err != nil {
		return fmt.Errorf("failed to clean %q: %w", c.Dir(), err)
	}
	if !sess.quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", c.Dir())
	}
	return nil
}
