package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"codegate/internal/access"
	"codegate/internal/config"
	"codegate/internal/storage"
	logx "codegate/pkg/logx"
)

// openState opens the persisted state named by the config file without
// talking to Telegram. The caller closes the returned store.
func openState(ctx context.Context, cfgPath string) (*access.State, storage.Store, error) {
	cfg, err := config.NewManager(cfgPath).Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.Telegram.OwnerID == 0 {
		return nil, nil, errors.New("telegram.owner_id is empty (set CODEGATE_OWNER_ID or OWNER_ID)")
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, nil, err
	}
	path := cfg.Storage.Path
	if path == "" {
		path = config.DefaultStoragePath
	}
	store, err := storage.Open(storage.Config{Driver: cfg.Storage.DriverOrDefault(), Path: path, BusyTimeout: busy}, logx.Nop())
	if err != nil {
		return nil, nil, err
	}
	st, err := access.Open(ctx, store, cfg.Telegram.OwnerID, logx.Nop())
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return st, store, nil
}

// withState runs fn against the offline state and closes the store after.
func withState(cmd *cobra.Command, cfgPath string, fn func(ctx context.Context, st *access.State) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	st, store, err := openState(ctx, cfgPath)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, st)
}

func parseAccount(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("account must be a numeric id: %q", raw)
	}
	return id, nil
}

func newTokenCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage secret codes offline",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "issue <account>",
			Short: "Issue a new secret code for an authorized account",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseAccount(args[0])
				if err != nil {
					return err
				}
				return withState(cmd, *cfgPath, func(ctx context.Context, st *access.State) error {
					if !st.Ledger().IsAccountAuthorized(id) {
						return fmt.Errorf("account %d is not authorized", id)
					}
					token, err := st.Tokens().Issue(ctx, id)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), token)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "revoke <token>",
			Short: "Revoke a secret code",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withState(cmd, *cfgPath, func(ctx context.Context, st *access.State) error {
					removed, err := st.Tokens().Revoke(ctx, args[0])
					if err != nil {
						return err
					}
					if !removed {
						return fmt.Errorf("secret code %q not found", args[0])
					}
					fmt.Fprintln(cmd.OutOrStdout(), "revoked")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List secret codes",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withState(cmd, *cfgPath, func(ctx context.Context, st *access.State) error {
					w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ACCOUNT\tCODE")
					for _, b := range st.Tokens().List() {
						fmt.Fprintf(w, "%d\t%s\n", b.Account, b.Token)
					}
					return w.Flush()
				})
			},
		},
	)
	return cmd
}

func newLedgerCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Manage authorized accounts offline",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "authorize <account>",
			Short: "Authorize an account",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseAccount(args[0])
				if err != nil {
					return err
				}
				return withState(cmd, *cfgPath, func(ctx context.Context, st *access.State) error {
					changed, err := st.Ledger().AuthorizeAccount(ctx, id)
					if err != nil {
						return err
					}
					if !changed {
						fmt.Fprintf(cmd.OutOrStdout(), "account %d already authorized\n", id)
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "account %d authorized\n", id)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "deauthorize <account>",
			Short: "Remove an authorized account",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseAccount(args[0])
				if err != nil {
					return err
				}
				return withState(cmd, *cfgPath, func(ctx context.Context, st *access.State) error {
					changed, err := st.Ledger().DeauthorizeAccount(ctx, id)
					if err != nil {
						return err
					}
					if !changed {
						return fmt.Errorf("account %d is not authorized", id)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "account %d deauthorized\n", id)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List authorized accounts and chats",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withState(cmd, *cfgPath, func(ctx context.Context, st *access.State) error {
					l := st.Ledger()
					out := cmd.OutOrStdout()
					fmt.Fprintf(out, "owner: %d\n", l.Owner())
					for _, id := range l.Accounts() {
						fmt.Fprintf(out, "account: %d\n", id)
					}
					for _, id := range l.Chats() {
						fmt.Fprintf(out, "chat: %d\n", id)
					}
					return nil
				})
			},
		},
	)
	return cmd
}
