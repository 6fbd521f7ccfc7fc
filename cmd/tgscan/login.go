package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hrygo/tgscan/account"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Establish or refresh account sessions interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}
		if len(p.Phones) == 0 {
			return fmt.Errorf("no phones given; pass --phones")
		}

		ctx, cancel := signalContext()
		defer cancel()

		blobs, err := newBlobStore(ctx, p)
		if err != nil {
			return err
		}
		dialer, err := newDialer(p)
		if err != nil {
			return err
		}

		// One account at a time: the login flow prompts on the terminal.
		for _, phone := range p.Phones {
			acc := account.NewAccount(blobs, dialer, phone)
			acc.Code = codePrompt(phone)
			acc.Password = passwordPrompt(phone)

			err := acc.Session(ctx, true, func(ctx context.Context) error {
				fmt.Printf("%s: session OK\n", phone)
				return nil
			})
			if err != nil {
				return fmt.Errorf("login of %s failed: %w", phone, err)
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
