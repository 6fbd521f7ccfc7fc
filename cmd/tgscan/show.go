package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/hrygo/tgscan/store"
	"github.com/hrygo/tgscan/store/db"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the latest statistics snapshot",
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

		since, err := statsStore.SinceLastUpdate(ctx)
		if err != nil {
			return err
		}
		rows, err := statsStore.LastStats(ctx)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("no statistics collected yet")
			return nil
		}

		fmt.Printf("last update: %s (%s ago)\n\n", rows[0].CreatedAt.Format("2006-01-02 15:04"), since.Round(time.Second))

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "CHANNEL\tSUBSCRIBERS\tREACH")
		for _, row := range rows {
			fmt.Fprintf(w, "%s\t%d\t%d\n", row.Username, row.Subscribers, row.Reach)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
