package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	coreconfig "github.com/AzielCF/az-recruit/core/config"
	"github.com/AzielCF/az-recruit/crm/application"
	"github.com/AzielCF/az-recruit/crm/domain"
	"github.com/AzielCF/az-recruit/crm/domain/candidate"
	"github.com/AzielCF/az-recruit/crm/domain/ledger"
)

const inspectTimeout = 10 * time.Second

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Read candidates, counters and audit events from the store",
}

var inspectPhoneCmd = &cobra.Command{
	Use:   "phone <number>",
	Short: "Resolve a phone number and print the candidate with its recent messages",
	Args:  cobra.ExactArgs(1),
	RunE: withStores(func(ctx context.Context, cmd *cobra.Command, stores domain.Stores, args []string) error {
		limit, _ := cmd.Flags().GetInt("messages")
		return printCandidate(ctx, cmd.OutOrStdout(), stores, args[0], limit)
	}),
}

var inspectCountersCmd = &cobra.Command{
	Use:   "counters",
	Short: "Print the global ingestion counters",
	Args:  cobra.NoArgs,
	RunE: withStores(func(ctx context.Context, cmd *cobra.Command, stores domain.Stores, _ []string) error {
		return printCounters(ctx, cmd.OutOrStdout(), stores)
	}),
}

var inspectEventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print the most recent audit events",
	Args:  cobra.NoArgs,
	RunE: withStores(func(ctx context.Context, cmd *cobra.Command, stores domain.Stores, _ []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return printEvents(ctx, cmd.OutOrStdout(), stores, limit)
	}),
}

var inspectClaimCmd = &cobra.Command{
	Use:   "claim <message-id>",
	Short: "Print the deduplication state of a message id",
	Args:  cobra.ExactArgs(1),
	RunE: withStores(func(ctx context.Context, cmd *cobra.Command, stores domain.Stores, args []string) error {
		state, err := stores.Claims.State(ctx, args[0])
		if err != nil {
			return err
		}
		if state == "" {
			state = "absent"
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], state)
		return err
	}),
}

func init() {
	inspectPhoneCmd.Flags().Int("messages", 10, "number of recent messages to print")
	inspectEventsCmd.Flags().Int("limit", 20, "number of events to print")
	inspectCmd.AddCommand(inspectPhoneCmd, inspectCountersCmd, inspectEventsCmd, inspectClaimCmd)
	rootCmd.AddCommand(inspectCmd)
}

type storeCommand func(ctx context.Context, cmd *cobra.Command, stores domain.Stores, args []string) error

func withStores(fn storeCommand) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		be, err := openBackend(coreconfig.Global)
		if err != nil {
			return err
		}
		defer be.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), inspectTimeout)
		defer cancel()
		return fn(ctx, cmd, be.stores, args)
	}
}

func printCandidate(ctx context.Context, out io.Writer, stores domain.Stores, raw string, limit int) error {
	resolver := application.NewResolver(stores.Candidates, coreconfig.Global.Reliability.MaxSuffixScan)
	id, err := resolver.Resolve(ctx, raw)
	if errors.Is(err, candidate.ErrNotFound) {
		_, err = fmt.Fprintf(out, "no candidate for %s\n", raw)
		return err
	}
	if err != nil {
		return err
	}
	c, err := stores.Candidates.Get(ctx, id)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "id\t%s\n", c.ID)
	fmt.Fprintf(w, "phone\t%s\n", c.Phone)
	fmt.Fprintf(w, "name\t%s\n", c.Name)
	fmt.Fprintf(w, "first contact\t%s (%s)\n", c.CreatedAt.Format(time.RFC3339), humanize.Time(c.CreatedAt))
	fmt.Fprintf(w, "last from candidate\t%s\n", ago(c.LastUserMessageAt))
	fmt.Fprintf(w, "last from bot\t%s\n", ago(c.LastBotMessageAt))
	fmt.Fprintf(w, "messages in/out\t%s / %s\n", humanize.Comma(c.InboundCount), humanize.Comma(c.OutboundCount))
	keys := make([]string, 0, len(c.Attributes))
	for k := range c.Attributes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "attr %s\t%s\n", k, c.Attributes[k])
	}
	if err := w.Flush(); err != nil {
		return err
	}

	msgs, err := stores.Messages.List(ctx, c.ID, limit)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", humanize.Time(m.Timestamp), m.Direction, m.Status, m.Content)
	}
	return w.Flush()
}

func printCounters(ctx context.Context, out io.Writer, stores domain.Stores) error {
	counters, err := stores.Counters.All(ctx, ledger.Names()...)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, name := range ledger.Names() {
		fmt.Fprintf(w, "%s\t%s\n", name, humanize.Comma(counters[name]))
	}
	return w.Flush()
}

func printEvents(ctx context.Context, out io.Writer, stores domain.Stores, limit int) error {
	events, err := stores.Events.Recent(ctx, limit)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", humanize.Time(e.At), e.Kind, e.CandidateID, e.MessageID, e.Detail)
	}
	return w.Flush()
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return humanize.Time(t)
}
