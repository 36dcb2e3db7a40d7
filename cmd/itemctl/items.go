package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacentio/itemstore/store"
)

func newGetCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <partition> [sort]",
		Short: "Print an item",
		Args:  keyArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := a.store.GetRequired(cmd.Context(), a.table, keyFromArgs(args))
			if err != nil {
				return err
			}
			return a.print(item.Map())
		},
	}
}

var putFlags = struct {
	itemType      string
	details       string
	attributes    []string
	updateAllowed bool
}{}

func newPutCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "put <partition> [sort]",
		Short: "Write an item",
		Long: `Write an item with the managed type, details, created and modified attributes.

Without --update-allowed the write fails if the key already exists.`,
		Args: keyArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := store.PutInput{
				Key:           keyFromArgs(args),
				Type:          putFlags.itemType,
				UpdateAllowed: putFlags.updateAllowed,
			}
			if putFlags.details != "" {
				if err := json.Unmarshal([]byte(putFlags.details), &in.Details); err != nil {
					return fmt.Errorf("parse --details: %w", err)
				}
			}
			attrs, err := parseAssignments(putFlags.attributes)
			if err != nil {
				return err
			}
			in.Attributes = attrs

			if err := a.store.Put(cmd.Context(), a.table, in); err != nil {
				return err
			}
			item, err := a.store.GetRequired(cmd.Context(), a.table, in.Key)
			if err != nil {
				return err
			}
			return a.print(item.Map())
		},
	}

	cmd.Flags().StringVar(&putFlags.itemType, "type", "", "Item type (default \"ddb_item\")")
	cmd.Flags().StringVar(&putFlags.details, "details", "", "Details payload as a JSON object")
	cmd.Flags().StringArrayVar(&putFlags.attributes, "attr", nil, "Extra attribute as name=value (repeatable)")
	cmd.Flags().BoolVar(&putFlags.updateAllowed, "update-allowed", false, "Overwrite an existing item")
	return cmd
}

var updateFlags = struct {
	set          []string
	returnValues string
}{}

func newUpdateCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "update <partition> [sort]",
		Short: "Update attributes of an existing item",
		Args:  keyArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseAssignments(updateFlags.set)
			if err != nil {
				return err
			}
			if len(values) == 0 {
				return fmt.Errorf("at least one --set is required")
			}
			res, err := a.store.Update(cmd.Context(), a.table, keyFromArgs(args), store.UpdateInput{
				Values:       values,
				ReturnValues: store.ReturnValues(updateFlags.returnValues),
			})
			if err != nil {
				return err
			}
			if res.Attributes == nil {
				return nil
			}
			return a.print(res.Attributes)
		},
	}

	cmd.Flags().StringArrayVar(&updateFlags.set, "set", nil, "Attribute to set as name=value (repeatable)")
	cmd.Flags().StringVar(&updateFlags.returnValues, "return", string(store.ReturnAllNew), "Snapshot to print: ALL_NEW, ALL_OLD, UPDATED_NEW, UPDATED_OLD or empty")
	return cmd
}

func newDeleteCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <partition> [sort]",
		Short: "Delete an item; deleting a missing item succeeds",
		Args:  keyArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.store.Delete(cmd.Context(), a.table, keyFromArgs(args))
		},
	}
}
