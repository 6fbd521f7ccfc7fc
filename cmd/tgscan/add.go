package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hrygo/tgscan/store"
	"github.com/hrygo/tgscan/store/db"
	"github.com/hrygo/tgscan/tgurl"
)

var addCmd = &cobra.Command{
	Use:   "add <channel>...",
	Short: "Register channels for collection",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		driver, err := db.NewDriver(p)
		if err != nil {
			return err
		}
		statsStore := store.New(driver)
		defer statsStore.Close()
		if err := statsStore.Migrate(ctx); err != nil {
			return err
		}

		for _, username := range tgurl.EnsureAts(args) {
			if err := statsStore.UpsertChannel(ctx, username); err != nil {
				return err
			}
			fmt.Println("added", username)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(addCmd)
}
