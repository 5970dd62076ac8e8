package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/scrypster/lorekeeper/internal/engine"
	"github.com/scrypster/lorekeeper/pkg/types"
)

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newCompressCmd() *cobra.Command {
	var ageDays int

	cmd := &cobra.Command{
		Use:   "compress <entity>",
		Short: "Fold an entity's aged events into an episode summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntityID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, func(eng *engine.Engine) error {
				episode, err := eng.CompressAged(cmd.Context(), id, ageDays)
				if err != nil {
					return err
				}
				if episode == nil {
					_, err = fmt.Fprintln(cmd.OutOrStdout(), "null")
					return err
				}
				return printJSON(cmd.OutOrStdout(), episode)
			})
		},
	}

	cmd.Flags().IntVar(&ageDays, "age-days", -1, "Compress events older than this many days (default: compression_age_days)")
	return cmd
}

func newContextCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "context <entity>",
		Short: "Print the assembled context bundle for an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntityID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, func(eng *engine.Engine) error {
				return printJSON(cmd.OutOrStdout(), eng.AssembleContext(cmd.Context(), id))
			})
		},
	}
}

func newEventsCmd() *cobra.Command {
	var (
		limit     int
		add       string
		eventType string
	)

	cmd := &cobra.Command{
		Use:   "events <entity>",
		Short: "Show an entity's working memory, or record an event with --add",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntityID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, func(eng *engine.Engine) error {
				if add != "" {
					ev, err := eng.RecordEvent(cmd.Context(), id, types.MemoryEvent{EventType: eventType, Description: add})
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), ev)
				}
				events, err := eng.RecentEvents(cmd.Context(), id, limit)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), events)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum events to show (default: the whole window)")
	cmd.Flags().StringVar(&add, "add", "", "Record an event with this description")
	cmd.Flags().StringVar(&eventType, "type", "event", "Event type used with --add")
	return cmd
}

func newFactsCmd() *cobra.Command {
	var (
		limit int
		query string
	)

	cmd := &cobra.Command{
		Use:   "facts <entity>",
		Short: "Show an entity's most important facts, or search them with --query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntityID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, func(eng *engine.Engine) error {
				var (
					facts []types.LongTermFact
					err   error
				)
				if query != "" {
					facts, err = eng.SearchFacts(cmd.Context(), id, query, limit)
				} else {
					facts, err = eng.TopFacts(cmd.Context(), id, limit)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), facts)
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum facts to show")
	cmd.Flags().StringVarP(&query, "query", "q", "", "Search facts instead of listing the top ones")
	return cmd
}

func newWorldCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "world <entity>",
		Short: "Show an entity's world state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseEntityID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd, func(eng *engine.Engine) error {
				state, err := eng.WorldState(cmd.Context(), id)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), state)
			})
		},
	}
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Maintain the response cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "invalidate <pattern>",
		Short: "Remove cached entries whose key matches a glob (e.g. 'l3:npc:*')",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd, func(eng *engine.Engine) error {
				removed := eng.CacheInvalidate(cmd.Context(), args[0])
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries\n", removed)
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete expired rows from the durable cache tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withEngine(cmd, func(eng *engine.Engine) error {
				n, err := eng.PurgeCache(cmd.Context())
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d entries\n", n)
				return err
			})
		},
	})

	return cmd
}
