package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jacentio/itemstore/store"
)

var scanFlags = struct {
	filter string
}{}

func newScanCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Print every item, optionally filtered on one attribute",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter, err := parseFilter(scanFlags.filter)
			if err != nil {
				return err
			}
			items, err := a.store.Scan(cmd.Context(), a.table, filter)
			if err != nil {
				return err
			}
			return a.printItems(items)
		},
	}

	cmd.Flags().StringVar(&scanFlags.filter, "filter", "", "Filter as name=value[,value...]; matches any listed value")
	return cmd
}

var queryFlags = struct {
	index  string
	filter string
}{}

func newQueryCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query <name=value>",
		Short: "Print items whose partition attribute equals a value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, raw, ok := strings.Cut(args[0], "=")
			if !ok || name == "" {
				return fmt.Errorf("invalid query %q, expected name=value", args[0])
			}
			filter, err := parseFilter(queryFlags.filter)
			if err != nil {
				return err
			}
			items, err := a.store.Query(cmd.Context(), a.table, store.Query{
				Index:     queryFlags.index,
				Attribute: name,
				Value:     parseValue(raw),
				Filter:    filter,
			})
			if err != nil {
				return err
			}
			return a.printItems(items)
		},
	}

	cmd.Flags().StringVar(&queryFlags.index, "index", "", "Secondary index to query")
	cmd.Flags().StringVar(&queryFlags.filter, "filter", "", "Filter as name=value[,value...]")
	return cmd
}

var purgeFlags = struct {
	yes bool
}{}

func newPurgeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every item in the table",
		Long: `Delete every item in the table, one at a time.

The purge is not atomic: a failure part way through leaves the table
partially emptied. Intended for clearing test fixtures.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !purgeFlags.yes {
				return errors.New("refusing to purge without --yes")
			}
			deleted, err := a.store.DeleteAll(cmd.Context(), a.table)
			fmt.Fprintf(a.out, "deleted %d items from %s\n", deleted, a.store.TableName(a.table))
			return err
		},
	}

	cmd.Flags().BoolVar(&purgeFlags.yes, "yes", false, "Confirm deleting every item")
	return cmd
}

func newWaitCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "wait",
		Short: "Block until the table exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.store.WaitForTable(cmd.Context(), a.table)
		},
	}
}

// parseFilter parses name=value[,value...]. An empty expr means no filter.
func parseFilter(expr string) (*store.Filter, error) {
	if expr == "" {
		return nil, nil
	}
	name, raw, ok := strings.Cut(expr, "=")
	if !ok || name == "" {
		return nil, fmt.Errorf("invalid filter %q, expected name=value[,value...]", expr)
	}
	var values []any
	for _, v := range strings.Split(raw, ",") {
		values = append(values, parseValue(v))
	}
	return store.Where(name, values...), nil
}
