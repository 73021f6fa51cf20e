package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/honeynil/CheckoutService/internal/app"
	"github.com/honeynil/CheckoutService/internal/config"
	"github.com/honeynil/CheckoutService/internal/infrastructure/auth"
	"github.com/spf13/cobra"
)

func parseID(kind, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s id %q: %w", kind, raw, err)
	}
	return id, nil
}

func reconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <transaction-id>",
		Short: "Re-read a charge from the payment provider and apply its status",
		Long: `Fetches the current status of the transaction's charge and applies it:
a paid charge is finalized and the access grant created or extended, a
refused or expired one is closed. Safe to run more than once.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, err := parseID("transaction", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				result, err := a.Checkout.Reconcile(cmd.Context(), txID)
				if err != nil {
					return err
				}
				return printJSON(cmd, result)
			})
		},
	}
}

func customerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Manage payment provider customers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "delete <user-id>",
		Short: "Delete the buyer's customer at the provider and clear the stored reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				if err := a.Checkout.DeleteCustomer(cmd.Context(), userID); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "customer of user %s deleted\n", userID)
				return nil
			})
		},
	})
	return cmd
}

func accessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "access",
		Short: "Inspect and repair access grants",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "show <user-id>",
		Short: "Show the active grant and grant history of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				summary, err := a.Access.Access(cmd.Context(), userID)
				if err != nil {
					return err
				}
				return printJSON(cmd, summary)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "grant <transaction-id>",
		Short: "Create or extend the grant of a paid transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			txID, err := parseID("transaction", args[0])
			if err != nil {
				return err
			}
			return withApp(cmd.Context(), func(a *app.App) error {
				grant, err := a.Access.GrantForTransaction(cmd.Context(), txID)
				if err != nil {
					return err
				}
				return printJSON(cmd, grant)
			})
		},
	})
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a buyer token for manual API calls",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := parseID("user", args[0])
			if err != nil {
				return err
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			token, err := auth.GenerateJWT(cfg.JWTSecret, userID, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
