package cmd

import (
	"fmt"

	"github.com/samber/do"
	"github.com/spf13/cobra"

	"github.com/signerkit/softtoken/internal/token"
)

func newListKeysCommand(i *do.Injector) *cobra.Command {
	return &cobra.Command{
		Use:   "list-keys",
		Short: "List the key identifiers present on disk",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			manager, err := do.Invoke[*token.Manager](i)
			if err != nil {
				return err
			}
			ids, err := manager.ListKeys()
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}
}

func newGenerateKeyCommand(i *do.Injector) *cobra.Command {
	var pin string
	cmd := &cobra.Command{
		Use:   "generate-key",
		Short: "Generate a new key pair and persist it as an encrypted container",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			manager, err := do.Invoke[*token.Manager](i)
			if err != nil {
				return err
			}
			pinBytes, err := resolvePin(pin, "Enter PIN: ")
			if err != nil {
				return err
			}
			if err := manager.VerifyPin(pinBytes); err != nil {
				return err
			}
			keyID, err := manager.GenerateKey(pinBytes)
			if err != nil {
				return err
			}
			fmt.Println(keyID)
			return nil
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "Token PIN (prompted when not provided).")
	return cmd
}
