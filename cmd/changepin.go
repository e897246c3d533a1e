package cmd

import (
	"github.com/samber/do"
	"github.com/spf13/cobra"

	"github.com/signerkit/softtoken/internal/token"
)

func newChangePinCommand(i *do.Injector) *cobra.Command {
	var oldPin, newPin string
	cmd := &cobra.Command{
		Use:   "change-pin",
		Short: "Re-protect every key container under a new PIN",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			manager, err := do.Invoke[*token.Manager](i)
			if err != nil {
				return err
			}
			oldBytes, err := resolvePin(oldPin, "Enter current PIN: ")
			if err != nil {
				return err
			}
			if err := manager.VerifyPin(oldBytes); err != nil {
				return err
			}
			newBytes, err := resolvePin(newPin, "Enter new PIN: ")
			if err != nil {
				return err
			}
			return manager.ChangePin(oldBytes, newBytes)
		},
	}
	cmd.Flags().StringVar(&oldPin, "old-pin", "", "Current token PIN (prompted when not provided).")
	cmd.Flags().StringVar(&newPin, "new-pin", "", "New token PIN (prompted when not provided).")
	return cmd
}

func newRecoverCommand(i *do.Injector) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Resolve an interrupted PIN change",
		Long: "Inspects the persisted swap phase and the key, temp, and backup " +
			"directories, then finishes or rolls back an interrupted re-protection pass.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			manager, err := do.Invoke[*token.Manager](i)
			if err != nil {
				return err
			}
			return manager.Recover()
		},
	}
}
