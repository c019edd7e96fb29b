package main

import (
	"context"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/MarcoPoloResearchLab/driftwood/internal/interaction"
	"github.com/spf13/cobra"
)

const defaultSettleTimeout = 30 * time.Second

type submitFunc func(ctx context.Context, rt *runtime, id content.ResourceID, args []string) (*interaction.Ticket, error)

func newLikeCommand() *cobra.Command {
	return newInteractionCommand("like <id>", "Like a record", cobra.ExactArgs(1),
		func(ctx context.Context, rt *runtime, id content.ResourceID, _ []string) (*interaction.Ticket, error) {
			return rt.client.Like(ctx, id)
		})
}

func newUnlikeCommand() *cobra.Command {
	return newInteractionCommand("unlike <id>", "Withdraw a like (requires --allow-unlike)", cobra.ExactArgs(1),
		func(ctx context.Context, rt *runtime, id content.ResourceID, _ []string) (*interaction.Ticket, error) {
			return rt.client.Unlike(ctx, id)
		})
}

func newViewCommand() *cobra.Command {
	return newInteractionCommand("view <id>", "Record a view", cobra.ExactArgs(1),
		func(ctx context.Context, rt *runtime, id content.ResourceID, _ []string) (*interaction.Ticket, error) {
			return rt.client.RecordView(ctx, id)
		})
}

func newCommentCommand() *cobra.Command {
	return newInteractionCommand("comment <id> <text>...", "Post a comment", cobra.MinimumNArgs(2),
		func(ctx context.Context, rt *runtime, id content.ResourceID, args []string) (*interaction.Ticket, error) {
			return rt.client.Comment(ctx, id, strings.Join(args, " "))
		})
}

// newInteractionCommand seeds the counters from a fetch, submits the mutation and
// waits for it to confirm or roll back.
func newInteractionCommand(use, short string, args cobra.PositionalArgs, submit submitFunc) *cobra.Command {
	var (
		kind    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			recordKind, err := content.NewKind(kind)
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if _, err := rt.client.Fetch(ctx, recordKind, id, nil); err != nil {
				return err
			}
			ticket, err := submit(ctx, rt, id, args[1:])
			if err != nil {
				return err
			}
			outcome, err := ticket.Wait(ctx)
			renderOutcome(cmd.OutOrStdout(), id, outcome)
			return err
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "article", "Record kind used to seed the counters")
	cmd.Flags().DurationVar(&timeout, "timeout", defaultSettleTimeout, "How long to wait for the backend to confirm")
	return cmd
}
