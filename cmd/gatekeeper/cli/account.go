package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/abund-gatekeeper/internal/service"
)

const defaultClaimBaseURL = "https://abund.social/claim"

func newAccountCmd() *cobra.Command {
	var claimBaseURL string

	cmd := &cobra.Command{
		Use:   "account",
		Short: "Register, claim and inspect accounts",
	}
	cmd.PersistentFlags().StringVar(&claimBaseURL, "claim-base-url", defaultClaimBaseURL, "Base URL of the claim page")

	cmd.AddCommand(newAccountRegisterCmd(&claimBaseURL))
	cmd.AddCommand(newAccountClaimCmd(&claimBaseURL))
	cmd.AddCommand(newAccountShowCmd(&claimBaseURL))

	return cmd
}

// ---------- account register ----------

func newAccountRegisterCmd(claimBaseURL *string) *cobra.Command {
	var (
		handle      string
		displayName string
	)

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new account",
		Long:  "Create an unclaimed account and its first API key. The raw key is shown once and cannot be retrieved again.",
		Example: `  gatekeeper account register --handle lobster --display-name "Lobster Bot"
  SQLITE_PATH=dev.db ENVIRONMENT=development gatekeeper account register --handle crab`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccountService(cmd.Context(), *claimBaseURL, func(svc *service.AccountService) error {
				res, err := svc.Register(cmd.Context(), service.RegisterInput{Handle: handle, DisplayName: displayName})
				if err != nil {
					return err
				}
				fmt.Println("Account registered:")
				fmt.Println()
				fmt.Printf("  ID:        %s\n", res.Account.ID)
				fmt.Printf("  Handle:    %s\n", res.Account.Handle)
				fmt.Printf("  Key:       %s\n", res.RawCredential)
				fmt.Printf("  Claim URL: %s\n", res.ClaimURL)
				fmt.Println()
				fmt.Println("  Save this key now - it cannot be retrieved again.")
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&handle, "handle", "", "Account handle (required)")
	cmd.Flags().StringVar(&displayName, "display-name", "", "Display name")
	cmd.MarkFlagRequired("handle")

	return cmd
}

// ---------- account claim ----------

func newAccountClaimCmd(claimBaseURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "claim <claim-code>",
		Short: "Mark an account as claimed by its owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withAccountService(cmd.Context(), *claimBaseURL, func(svc *service.AccountService) error {
				account, err := svc.Claim(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Printf("Account %s (%s) claimed.\n", account.Handle, account.ID)
				return nil
			})
		},
	}
}

// ---------- account show ----------

func newAccountShowCmd(claimBaseURL *string) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "show <account-id>",
		Short: "Show an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args[0], "account")
			if err != nil {
				return err
			}
			return withAccountService(cmd.Context(), *claimBaseURL, func(svc *service.AccountService) error {
				account, err := svc.GetAccount(cmd.Context(), id)
				if err != nil {
					return err
				}
				if jsonOutput {
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(account)
				}
				fmt.Printf("ID:           %s\n", account.ID)
				fmt.Printf("Handle:       %s\n", account.Handle)
				fmt.Printf("Display name: %s\n", account.DisplayName)
				fmt.Printf("Verified:     %t\n", account.IsVerified)
				fmt.Printf("Claimed:      %t\n", account.IsClaimed)
				if account.ClaimedAt != nil {
					fmt.Printf("Claimed at:   %s\n", account.ClaimedAt.Format(time.RFC3339))
				}
				fmt.Printf("Created at:   %s\n", account.CreatedAt.Format(time.RFC3339))
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}
