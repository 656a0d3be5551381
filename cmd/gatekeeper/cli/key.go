package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/abund-gatekeeper/internal/httputil"
	"github.com/abund-gatekeeper/internal/model"
	"github.com/abund-gatekeeper/internal/service"
	"github.com/abund-gatekeeper/internal/store"
)

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "key",
		Aliases: []string{"credential"},
		Short:   "Manage API keys",
		Long:    "Issue, list, rotate and revoke the API keys accounts authenticate with.",
	}

	cmd.AddCommand(newKeyIssueCmd())
	cmd.AddCommand(newKeyListCmd())
	cmd.AddCommand(newKeyRotateCmd())
	cmd.AddCommand(newKeyRevokeCmd())
	cmd.AddCommand(newKeyBypassCmd())

	return cmd
}

func printRawKey(raw string, cred *model.CredentialRecord) {
	fmt.Println("API key issued:")
	fmt.Println()
	fmt.Printf("  ID:      %s\n", cred.ID)
	fmt.Printf("  Account: %s\n", cred.AccountID)
	fmt.Printf("  Key:     %s\n", raw)
	if cred.ExpiresAt != nil {
		fmt.Printf("  Expires: %s\n", cred.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  Save this key now - it cannot be retrieved again.")
}

// ---------- key issue ----------

func newKeyIssueCmd() *cobra.Command {
	var (
		accountID string
		expiresIn time.Duration
		bypass    bool
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue an additional API key for an account",
		Example: `  gatekeeper key issue --account 0190c7c4-... --expires-in 720h
  gatekeeper key issue --account 0190c7c4-... --bypass-quota`,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(accountID, "account")
			if err != nil {
				return err
			}
			input := service.IssueInput{BypassQuota: bypass}
			if expiresIn > 0 {
				at := time.Now().Add(expiresIn).UTC()
				input.ExpiresAt = &at
			}
			return withAccountService(cmd.Context(), defaultClaimBaseURL, func(svc *service.AccountService) error {
				res, err := svc.IssueCredential(cmd.Context(), id, input)
				if err != nil {
					return err
				}
				printRawKey(res.RawCredential, res.Credential)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Account ID (required)")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "Lifetime of the key; zero never expires")
	cmd.Flags().BoolVar(&bypass, "bypass-quota", false, "Exempt the key from quotas")
	cmd.MarkFlagRequired("account")

	return cmd
}

// ---------- key list ----------

func newKeyListCmd() *cobra.Command {
	var (
		accountID  string
		page       int
		perPage    int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			pg, err := httputil.ParsePagination(strconv.Itoa(page), strconv.Itoa(perPage))
			if err != nil {
				return err
			}
			filters := store.CredentialFilters{Page: pg.Number, PerPage: pg.PerPage}
			if accountID != "" {
				id, err := parseUUIDArg(accountID, "account")
				if err != nil {
					return err
				}
				filters.AccountID = &id
			}

			return withAccountService(cmd.Context(), defaultClaimBaseURL, func(svc *service.AccountService) error {
				creds, total, err := svc.ListCredentials(cmd.Context(), filters)
				if err != nil {
					return err
				}
				if jsonOutput {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(creds)
				}

				fmt.Printf("%-36s %-36s %-16s %-6s %-20s\n", "ID", "ACCOUNT", "PREFIX", "BYPASS", "LAST USED")
				fmt.Printf("%-36s %-36s %-16s %-6s %-20s\n", "--", "-------", "------", "------", "---------")
				for _, c := range creds {
					lastUsed := "never"
					if c.LastUsedAt != nil {
						lastUsed = c.LastUsedAt.Format(time.RFC3339)
					}
					fmt.Printf("%-36s %-36s %-16s %-6t %-20s\n", c.ID, c.AccountID, c.Prefix, c.BypassQuota, lastUsed)
				}
				fmt.Printf("\n%d of %d keys (page %d)\n", len(creds), total, pg.Number)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&accountID, "account", "", "Only keys of this account")
	cmd.Flags().IntVar(&page, "page", 1, "Page number")
	cmd.Flags().IntVar(&perPage, "per-page", 20, "Keys per page (max 100)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

// ---------- key rotate ----------

func newKeyRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate <key-id>",
		Short: "Replace an API key; the old key stops working immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args[0], "key")
			if err != nil {
				return err
			}
			return withAccountService(cmd.Context(), defaultClaimBaseURL, func(svc *service.AccountService) error {
				res, err := svc.RotateCredential(cmd.Context(), id)
				if err != nil {
					return err
				}
				printRawKey(res.RawCredential, res.Credential)
				return nil
			})
		},
	}
}

// ---------- key revoke ----------

func newKeyRevokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <key-id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args[0], "key")
			if err != nil {
				return err
			}
			return withAccountService(cmd.Context(), defaultClaimBaseURL, func(svc *service.AccountService) error {
				if err := svc.RevokeCredential(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Printf("API key %s revoked.\n", id)
				return nil
			})
		},
	}
}

// ---------- key bypass ----------

func newKeyBypassCmd() *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "bypass <key-id>",
		Short: "Exempt an API key from quotas (or restore them with --off)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args[0], "key")
			if err != nil {
				return err
			}
			return withAccountService(cmd.Context(), defaultClaimBaseURL, func(svc *service.AccountService) error {
				cred, err := svc.SetBypass(cmd.Context(), id, !off)
				if err != nil {
					return err
				}
				fmt.Printf("API key %s bypass_quota=%t.\n", cred.ID, cred.BypassQuota)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&off, "off", false, "Remove the exemption")

	return cmd
}
