package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/cookiechain/internal/store"
	"github.com/roach88/cookiechain/internal/tx"
)

// HistoryResult is the output of the history command.
type HistoryResult struct {
	Records []tx.Record       `json:"records"`
	Counts  map[tx.Status]int `json:"counts"`
}

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Statuses []string
	Kind     string
	Limit    int
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show journaled transactions",
		Long: `Show transactions journaled by previous sessions, oldest first.

Counts cover the whole journal regardless of filters.

Example:
  cookiechain history --limit 50
  cookiechain history --status failed --kind click --format json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.Statuses, "status", nil, "only these statuses (pending|submitted|confirmed|failed)")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only this operation kind")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 20, "newest N records (0 for all)")
	return cmd
}

func runHistory(cmd *cobra.Command, opts *HistoryOptions) error {
	filter, err := opts.filter()
	if err != nil {
		return err
	}

	cfg, err := opts.loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)

	recs, err := st.History(cmd.Context(), filter)
	if err != nil {
		return WrapExitError(ExitCommandError, CodeStore, "failed to read history", err)
	}
	counts, err := st.CountByStatus(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, CodeStore, "failed to count records", err)
	}

	res := HistoryResult{Records: recs, Counts: counts}
	return opts.formatter(cmd).Emit(res, func(w io.Writer) error {
		if err := renderRecords(w, res.Records); err != nil {
			return err
		}
		return renderCounts(w, res.Counts)
	})
}

func (o *HistoryOptions) filter() (store.Filter, error) {
	f := store.Filter{Kind: tx.Kind(o.Kind), Limit: o.Limit}
	if o.Limit < 0 {
		return f, NewExitError(ExitCommandError, CodeArgument, fmt.Sprintf("--limit must not be negative, got %d", o.Limit))
	}
	if o.Kind != "" && !f.Kind.Valid() {
		return f, NewExitError(ExitCommandError, CodeArgument, fmt.Sprintf("unknown kind %q", o.Kind))
	}
	for _, s := range o.Statuses {
		st := tx.Status(s)
		if !st.Terminal() && !st.InFlight() {
			return f, NewExitError(ExitCommandError, CodeArgument, fmt.Sprintf("unknown status %q", s))
		}
		f.Statuses = append(f.Statuses, st)
	}
	return f, nil
}
