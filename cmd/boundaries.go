package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/airqo-platform/heatmap-cli/internal/boundary"
)

var boundariesCmd = &cobra.Command{
	Use:   "boundaries <country>",
	Short: "List the region names in a country's boundary file",
	Long:  "Prints every region name the boundary file of a country provides. Cities are matched against these names case-insensitively.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("boundaries"); err != nil {
			return err
		}
		return listBoundaries(cmd.Context(), os.Stdout, initBoundaries(cfg), args[0])
	},
}

func listBoundaries(ctx context.Context, out io.Writer, p boundary.Provider, country string) error {
	set, err := p.Regions(ctx, country)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(out, "%s: %d regions (%s)\n", set.Country, set.Len(), set.Source)
	for _, name := range set.Names() {
		_, _ = fmt.Fprintln(out, name)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(boundariesCmd)
}
