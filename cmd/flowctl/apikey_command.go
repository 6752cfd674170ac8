package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	mw "github.com/kiranshivaraju/assetflow/internal/api/middleware"
)

func newAPIKeyCommand(ctx *commandContext) *cobra.Command {
	keyCmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}

	keyCmd.AddCommand(newAPIKeyCreateCommand(ctx))
	keyCmd.AddCommand(newAPIKeyListCommand(ctx))
	keyCmd.AddCommand(newAPIKeyRevokeCommand(ctx))

	return keyCmd
}

func newAPIKeyCreateCommand(ctx *commandContext) *cobra.Command {
	var name string
	var scopes []string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key and print it once",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, key, err := mw.NewAPIKey(strings.TrimSpace(name), scopes)
			if err != nil {
				return err
			}
			st, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := st.CreateAPIKey(cmd.Context(), key); err != nil {
				return fmt.Errorf("store api key: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:     %s\n", key.ID)
			fmt.Fprintf(out, "Scopes: %s\n", strings.Join(key.Scopes, ", "))
			fmt.Fprintf(out, "Key:    %s\n", raw)
			fmt.Fprintln(out, "Store the key now; it cannot be shown again.")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Key name")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scope to grant (worker, jobs, admin); repeatable")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newAPIKeyListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List active API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			keys, err := st.ListAPIKeys(cmd.Context())
			if err != nil {
				return err
			}
			if len(keys) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No API keys")
				return nil
			}
			rows := make([][]string, 0, len(keys))
			for _, k := range keys {
				lastUsed := "never"
				if k.LastUsedAt != nil {
					lastUsed = formatTime(*k.LastUsedAt)
				}
				rows = append(rows, []string{
					k.ID.String(), k.Name, k.KeyPrefix, strings.Join(k.Scopes, ","), lastUsed,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"ID", "Name", "Prefix", "Scopes", "Last used"}, rows, nil))
			return nil
		},
	}
}

func newAPIKeyRevokeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid key id %q", args[0])
			}
			st, err := ctx.openStore(cmd.Context())
			if err != nil {
				return err
			}
			if err := st.RevokeAPIKey(cmd.Context(), id); err != nil {
				return fmt.Errorf("revoke api key: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked %s\n", id)
			return nil
		},
	}
}
