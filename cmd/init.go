package cmd

import (
	"github.com/samber/do"
	"github.com/spf13/cobra"

	"github.com/signerkit/softtoken/internal/token"
)

func newInitCommand(i *do.Injector) *cobra.Command {
	var pin string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the software token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceUsage = true

			manager, err := do.Invoke[*token.Manager](i)
			if err != nil {
				return err
			}
			pinBytes, err := resolvePin(pin, "Enter new PIN: ")
			if err != nil {
				return err
			}
			return manager.Initialize(pinBytes)
		},
	}
	cmd.Flags().StringVar(&pin, "pin", "", "Token PIN (prompted when not provided).")
	return cmd
}
