package main

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MarcoPoloResearchLab/driftwood/internal/content"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const maxConcurrentFetches = 4

func newGetCommand() *cobra.Command {
	var (
		refresh bool
		params  []string
	)
	cmd := &cobra.Command{
		Use:   "get <kind> <id>...",
		Short: "Fetch and reconcile one or more records",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := content.NewKind(args[0])
			if err != nil {
				return err
			}
			ids := make([]content.ResourceID, 0, len(args)-1)
			for _, raw := range args[1:] {
				id, err := parseID(raw)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			templateParams, err := parseParams(params)
			if err != nil {
				return err
			}

			rt, err := openRuntime()
			if err != nil {
				return err
			}
			defer rt.Close()

			records := make([]content.CanonicalRecord, len(ids))
			var (
				mu       sync.Mutex
				notFound []content.ResourceID
			)
			group, ctx := errgroup.WithContext(cmd.Context())
			group.SetLimit(maxConcurrentFetches)
			for i, id := range ids {
				group.Go(func() error {
					var (
						record content.CanonicalRecord
						err    error
					)
					if refresh {
						record, err = rt.client.Refresh(ctx, kind, id, templateParams)
					} else {
						record, err = rt.client.Fetch(ctx, kind, id, templateParams)
					}
					switch {
					case errors.Is(err, content.ErrNotFound):
						mu.Lock()
						notFound = append(notFound, id)
						mu.Unlock()
					case err != nil && len(record.Fields) == 0:
						return fmt.Errorf("%s %s: %w", kind, id, err)
					case err != nil:
						rt.logger.Warn("refresh failed; showing cached copy",
							zap.String("kind", kind.String()),
							zap.String("resource_id", id.String()),
							zap.Error(err))
					}
					records[i] = record
					return nil
				})
			}
			if err := group.Wait(); err != nil {
				return err
			}

			for _, record := range records {
				renderRecord(cmd.OutOrStdout(), record)
			}
			for _, id := range notFound {
				rt.logger.Warn("record not found", zap.String("kind", kind.String()), zap.String("resource_id", id.String()))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Bypass the cache and fetch now")
	cmd.Flags().StringSliceVar(&params, "param", nil, "Template parameter key=value (repeatable)")
	return cmd
}
