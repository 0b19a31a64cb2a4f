package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/cookiechain/internal/signer"
)

// AccountView is the public part of a local account. The private key is
// only ever written by export.
type AccountView struct {
	Address     string `json:"address"`
	PublicKey   string `json:"public_key"`
	Created     int64  `json:"created"`
	Funded      bool   `json:"funded"`
	Initialized bool   `json:"initialized"`
}

func accountView(d signer.AccountData) AccountView {
	return AccountView{
		Address:     d.Address,
		PublicKey:   d.PublicKey,
		Created:     d.Created,
		Funded:      d.Funded,
		Initialized: d.Initialized,
	}
}

func (v AccountView) render(w io.Writer) error {
	_, err := fmt.Fprintf(w, "Address:     %s\nPublic key:  %s\nCreated:     %s\nFunded:      %t\nInitialized: %t\n",
		v.Address, v.PublicKey, time.UnixMilli(v.Created).UTC().Format(time.RFC3339), v.Funded, v.Initialized)
	return err
}

// NewAccountCommand creates the account command group.
func NewAccountCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage the local signing account",
		Long: `Manage the locally held signing account.

The key pair lives in the keystore table of the database. A connected
wallet takes precedence over it when one is available.`,
	}

	cmd.AddCommand(newAccountNewCommand(rootOpts))
	cmd.AddCommand(newAccountShowCommand(rootOpts))
	cmd.AddCommand(newAccountExportCommand(rootOpts))
	cmd.AddCommand(newAccountImportCommand(rootOpts))
	cmd.AddCommand(newAccountDeleteCommand(rootOpts))
	cmd.AddCommand(newAccountFundCommand(rootOpts))
	return cmd
}

// withAccounts opens the store and hands fn an Accounts manager over its
// keystore.
func withAccounts(cmd *cobra.Command, rootOpts *RootOptions, fn func(*signer.Accounts) error) error {
	cfg, err := rootOpts.loadConfig(cmd)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore(st)
	return fn(signer.NewAccounts(st))
}

// loadAccount loads the stored account, mapping a missing one to a command
// error.
func loadAccount(cmd *cobra.Command, accts *signer.Accounts) (signer.AccountData, error) {
	data, err := accts.Load(cmd.Context())
	if errors.Is(err, signer.ErrNoAccount) {
		return signer.AccountData{}, NewExitError(ExitCommandError, CodeAccount, "no local account: run 'cookiechain account new' first")
	}
	if err != nil {
		return signer.AccountData{}, WrapExitError(ExitCommandError, CodeAccount, "failed to load account", err)
	}
	return data, nil
}

func newAccountNewCommand(rootOpts *RootOptions) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Generate a new local account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(cmd, rootOpts, func(accts *signer.Accounts) error {
				_, err := accts.Load(cmd.Context())
				switch {
				case err == nil && !force:
					return NewExitError(ExitCommandError, CodeAccount, "an account already exists (use --force to replace it)")
				case err != nil && !errors.Is(err, signer.ErrNoAccount):
					return WrapExitError(ExitCommandError, CodeAccount, "failed to load account", err)
				}

				data, err := accts.Generate(cmd.Context())
				if err != nil {
					return WrapExitError(ExitCommandError, CodeAccount, "failed to generate account", err)
				}
				slog.Info("account created", "address", data.Address)
				v := accountView(data)
				return rootOpts.formatter(cmd).Emit(v, v.render)
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing account")
	return cmd
}

func newAccountShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the local account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(cmd, rootOpts, func(accts *signer.Accounts) error {
				data, err := loadAccount(cmd, accts)
				if err != nil {
					return err
				}
				v := accountView(data)
				return rootOpts.formatter(cmd).Emit(v, v.render)
			})
		},
	}
}

func newAccountExportCommand(rootOpts *RootOptions) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the local account, including its private key",
		Long: `Export the local account as a JSON backup document.

The document contains the private key. Without --output it is written to
stdout as-is, whatever --format says.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(cmd, rootOpts, func(accts *signer.Accounts) error {
				if _, err := loadAccount(cmd, accts); err != nil {
					return err
				}
				doc, err := accts.Export()
				if err != nil {
					return WrapExitError(ExitCommandError, CodeAccount, "failed to export account", err)
				}

				if output == "" {
					_, err := fmt.Fprintln(cmd.OutOrStdout(), string(doc))
					return err
				}
				if err := os.WriteFile(output, append(doc, '\n'), 0o600); err != nil {
					return WrapExitError(ExitCommandError, CodeAccount, "failed to write export", err)
				}
				return rootOpts.formatter(cmd).Emit(map[string]string{"path": output}, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "Account exported to %s\n", output)
					return err
				})
			})
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the backup to this file (mode 0600)")
	return cmd
}

func newAccountImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Import an account backup, replacing the local account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, CodeArgument, "failed to read backup", err)
			}
			return withAccounts(cmd, rootOpts, func(accts *signer.Accounts) error {
				data, err := accts.Import(cmd.Context(), raw)
				if err != nil {
					return WrapExitError(ExitCommandError, CodeAccount, "failed to import account", err)
				}
				slog.Info("account imported", "address", data.Address)
				v := accountView(data)
				return rootOpts.formatter(cmd).Emit(v, v.render)
			})
		},
	}
}

func newAccountDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete the local account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(cmd, rootOpts, func(accts *signer.Accounts) error {
				if err := accts.Delete(cmd.Context()); err != nil {
					return WrapExitError(ExitCommandError, CodeAccount, "failed to delete account", err)
				}
				return rootOpts.formatter(cmd).Emit(map[string]bool{"deleted": true}, func(w io.Writer) error {
					_, err := fmt.Fprintln(w, "Account deleted.")
					return err
				})
			})
		},
	}
}

func newAccountFundCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "fund",
		Short: "Record that the account received faucet funds",
		Long: `Mark the local account as funded.

Against the simulated ledger there is no gas to pay; the flag is kept so
that an account backup carries the same state a real faucet grant would
leave behind.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccounts(cmd, rootOpts, func(accts *signer.Accounts) error {
				if _, err := loadAccount(cmd, accts); err != nil {
					return err
				}
				if err := accts.MarkFunded(cmd.Context()); err != nil {
					return WrapExitError(ExitCommandError, CodeAccount, "failed to mark account funded", err)
				}
				data, _ := accts.Data()
				v := accountView(data)
				return rootOpts.formatter(cmd).Emit(v, v.render)
			})
		},
	}
}
