package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cookiechain/internal/engine"
	"github.com/roach88/cookiechain/internal/ledger/sim"
	"github.com/roach88/cookiechain/internal/signer"
	"github.com/roach88/cookiechain/internal/store"
	"github.com/roach88/cookiechain/internal/tx"
)

// SimulateOptions holds flags for the simulate command.
type SimulateOptions struct {
	*RootOptions
	Clicks       int
	Interval     time.Duration
	Fund         int64
	Upgrades     []int
	AutoClickers []string
	Collect      bool
	Prestige     bool
	Wallet       bool
	Seed         uint64
}

// SimulateResult is the output of the simulate command.
type SimulateResult struct {
	View    engine.View       `json:"view"`
	Resumed int               `json:"resumed"`
	Counts  map[tx.Status]int `json:"counts"`
}

// NewSimulateCommand creates the simulate command.
func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SimulateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Play a session against the simulated ledger",
		Long: `Play one session against an in-process simulated ledger.

The session initializes the player, optionally credits cookies, clicks
--clicks times --interval apart, then performs any purchases in flag
order: upgrades, auto clickers, collect and prestige. Each purchase waits
for the previous one to settle. The final view is printed once every
transaction has settled.

Records are journaled to the database; in-flight records from an earlier
run are resumed first.

Example:
  cookiechain simulate --clicks 25 --interval 20ms
  cookiechain simulate --fund 1000 --upgrade 0 --auto-clicker 0:2 --collect`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Clicks, "clicks", 10, "number of clicks")
	cmd.Flags().DurationVar(&opts.Interval, "interval", 10*time.Millisecond, "pause between clicks")
	cmd.Flags().Int64Var(&opts.Fund, "fund", 0, "cookies credited after initialization")
	cmd.Flags().IntSliceVar(&opts.Upgrades, "upgrade", nil, "upgrade ids to buy (0-2)")
	cmd.Flags().StringSliceVar(&opts.AutoClickers, "auto-clicker", nil, "auto clickers to buy as type:qty")
	cmd.Flags().BoolVar(&opts.Collect, "collect", false, "collect passive cookies")
	cmd.Flags().BoolVar(&opts.Prestige, "prestige", false, "prestige at the end")
	cmd.Flags().BoolVar(&opts.Wallet, "wallet", false, "sign with a simulated browser wallet instead of the local account")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", 1, "seed for injected failures (ledger.fail_rate)")
	return cmd
}

type purchase struct {
	name string
	do   func(ctx context.Context, s *engine.Session) error
}

func (o *SimulateOptions) purchases() ([]purchase, error) {
	if o.Clicks < 0 {
		return nil, NewExitError(ExitCommandError, CodeArgument, fmt.Sprintf("--clicks must not be negative, got %d", o.Clicks))
	}

	var out []purchase
	for _, id := range o.Upgrades {
		out = append(out, purchase{
			name: fmt.Sprintf("upgrade %d", id),
			do: func(ctx context.Context, s *engine.Session) error {
				_, err := s.BuyUpgrade(ctx, id)
				return err
			},
		})
	}
	for _, arg := range o.AutoClickers {
		typeID, qty, err := parseAutoClicker(arg)
		if err != nil {
			return nil, err
		}
		out = append(out, purchase{
			name: fmt.Sprintf("auto clicker %d x%d", typeID, qty),
			do: func(ctx context.Context, s *engine.Session) error {
				_, err := s.BuyAutoClicker(ctx, typeID, qty)
				return err
			},
		})
	}
	if o.Collect {
		out = append(out, purchase{name: "collect", do: func(ctx context.Context, s *engine.Session) error {
			_, err := s.CollectPassive(ctx)
			return err
		}})
	}
	if o.Prestige {
		out = append(out, purchase{name: "prestige", do: func(ctx context.Context, s *engine.Session) error {
			_, err := s.Prestige(ctx)
			return err
		}})
	}
	return out, nil
}

// parseAutoClicker parses "type:qty".
func parseAutoClicker(arg string) (typeID, qty int, err error) {
	t, q, ok := strings.Cut(arg, ":")
	if !ok {
		return 0, 0, NewExitError(ExitCommandError, CodeArgument, fmt.Sprintf("invalid --auto-clicker %q: want type:qty", arg))
	}
	typeID, err1 := strconv.Atoi(strings.TrimSpace(t))
	qty, err2 := strconv.Atoi(strings.TrimSpace(q))
	if err1 != nil || err2 != nil || qty <= 0 {
		return 0, 0, NewExitError(ExitCommandError, CodeArgument, fmt.Sprintf("invalid --auto-clicker %q: want type:qty with qty > 0", arg))
	}
	return typeID, qty, nil
}

func runSimulate(cmd *cobra.Command, opts *SimulateOptions) error {
	plan, err := opts.purchases()
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

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	l := sim.New(
		sim.WithContract(cfg.Contract()),
		sim.WithLatency(cfg.Ledger.Latency),
		sim.WithFailRate(cfg.Ledger.FailRate, opts.Seed),
	)

	accounts := signer.NewAccounts(st)
	identity := signer.NewIdentity(accounts)
	if err := prepareIdentity(ctx, opts, l, accounts, identity); err != nil {
		return err
	}

	session := engine.NewSession(l, identity, cfg.SessionConfig(),
		engine.WithJournal(st),
		engine.WithSessionContract(cfg.Contract()),
	)
	session.Subscribe(func(v engine.View) {
		slog.Debug("view", "seq", v.Seq, "optimistic", v.Optimistic, "pending", v.Pending)
	})

	resumed, err := resume(ctx, st, session)
	if err != nil {
		return err
	}

	runDone := make(chan error, 1)
	go func() { runDone <- session.Run(ctx) }()

	if err := play(ctx, opts, l, accounts, session, plan); err != nil {
		cancel()
		<-runDone
		if closeErr := session.Close(context.WithoutCancel(ctx)); closeErr != nil {
			slog.Error("close session", "error", closeErr)
		}
		return err
	}

	session.Drain()
	if err := session.Refresh(ctx); err != nil {
		slog.Warn("final refresh failed", "error", err)
	}
	cancel()
	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("session loop", "error", err)
	}
	if err := session.Close(context.WithoutCancel(ctx)); err != nil {
		return WrapExitError(ExitCommandError, CodeStore, "failed to write journal", err)
	}

	res := SimulateResult{View: session.View(), Resumed: resumed, Counts: queueCounts(session)}
	return opts.formatter(cmd).Emit(res, res.render)
}

// prepareIdentity connects a simulated wallet, or loads the local account
// and creates one when none exists.
func prepareIdentity(ctx context.Context, opts *SimulateOptions, l *sim.Ledger, accounts *signer.Accounts, identity *signer.Identity) error {
	if opts.Wallet {
		w, err := sim.NewWallet(l)
		if err != nil {
			return WrapExitError(ExitCommandError, CodeAccount, "failed to create wallet", err)
		}
		identity.ConnectWallet(w)
		slog.Info("wallet connected", "address", w.Address())
		return nil
	}

	data, err := accounts.Load(ctx)
	if errors.Is(err, signer.ErrNoAccount) {
		data, err = accounts.Generate(ctx)
		if err == nil {
			slog.Info("created local account", "address", data.Address)
		}
	}
	if err != nil {
		return WrapExitError(ExitCommandError, CodeAccount, "failed to prepare account", err)
	}
	slog.Debug("using local account", "address", data.Address)
	return nil
}

// resume restores in-flight records journaled by an earlier run.
func resume(ctx context.Context, st *store.Store, session *engine.Session) (int, error) {
	recs, err := st.LoadInFlight(ctx)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, CodeStore, "failed to load journal", err)
	}
	if len(recs) == 0 {
		return 0, nil
	}
	n := session.Resume(ctx, recs)
	slog.Info("resumed in-flight records", "count", n)
	return n, nil
}

func play(ctx context.Context, opts *SimulateOptions, l *sim.Ledger, accounts *signer.Accounts, session *engine.Session, plan []purchase) error {
	if err := session.Initialize(ctx); err != nil {
		return WrapExitError(ExitFailure, CodeSession, "failed to initialize player", err)
	}
	if !opts.Wallet {
		if err := accounts.MarkInitialized(ctx); err != nil {
			slog.Warn("mark account initialized", "error", err)
		}
	}

	if opts.Fund > 0 {
		if err := l.Fund(session.View().Address, opts.Fund); err != nil {
			return WrapExitError(ExitFailure, CodeSession, "failed to fund player", err)
		}
		if err := session.Refresh(ctx); err != nil {
			return WrapExitError(ExitFailure, CodeSession, "refresh after funding", err)
		}
	}

	for i := 0; i < opts.Clicks; i++ {
		if err := session.Click(); err != nil {
			return WrapExitError(ExitFailure, CodeSession, "click", err)
		}
		if opts.Interval > 0 && i < opts.Clicks-1 {
			select {
			case <-time.After(opts.Interval):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	session.Drain()

	for _, p := range plan {
		if err := session.Refresh(ctx); err != nil {
			return WrapExitError(ExitFailure, CodeSession, "refresh", err)
		}
		if err := p.do(ctx, session); err != nil {
			// A rejected purchase is recorded as failed; keep going.
			slog.Warn("purchase failed", "purchase", p.name, "error", err)
		}
		session.Drain()
	}
	return nil
}

func queueCounts(s *engine.Session) map[tx.Status]int {
	counts := make(map[tx.Status]int, len(statusOrder))
	for _, st := range statusOrder {
		counts[st] = s.Store().CountByStatus(st)
	}
	return counts
}

func (r SimulateResult) render(w io.Writer) error {
	v := r.View
	if err := renderRecords(w, v.Records); err != nil {
		return err
	}
	if err := renderCounts(w, r.Counts); err != nil {
		return err
	}

	s := v.Stats
	_, err := fmt.Fprintf(w, "\nAddress:      %s\nCookies:      %s (confirmed %s)\nMultiplier:   x%d\nPer second:   %s\nPrestige:     %d\nUpgrades:     %v\nAuto clickers: %v\n",
		v.Address,
		cookies(v.Optimistic), cookies(s.TotalCookies),
		s.ClickMultiplier,
		cookies(s.CookiesPerSecond),
		s.PrestigeLevel,
		s.Upgrades,
		s.AutoClickers,
	)
	if err != nil {
		return err
	}
	if r.Resumed > 0 {
		_, err = fmt.Fprintf(w, "Resumed %d record(s) from an earlier run.\n", r.Resumed)
	}
	return err
}
