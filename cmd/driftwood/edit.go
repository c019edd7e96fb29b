package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newEditCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <id> <field=value>...",
		Short: "Store a local edit that overlays fetched content",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			fields, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}

			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			edit, err := rt.client.SaveEdit(cmd.Context(), id, fields)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved %d field(s) for %s at %s\n", len(edit.Fields), id, edit.EditedAt.Format(time.RFC3339))
			return nil
		},
	}
}

func newDiscardEditCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "discard-edit <id>",
		Short: "Drop the local edit of a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.client.DiscardEdit(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "discarded local edit for %s\n", id)
			return nil
		},
	}
}
