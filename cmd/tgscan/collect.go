package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/tgscan/account"
	"github.com/hrygo/tgscan/metrics"
	"github.com/hrygo/tgscan/stats"
	"github.com/hrygo/tgscan/store"
	"github.com/hrygo/tgscan/store/db"
	"github.com/hrygo/tgscan/tgurl"
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Scan the stored channels and save a statistics snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfile()
		if err != nil {
			return err
		}
		p.Depth = viper.GetInt("depth")

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

		channelRows, err := statsStore.ListChannels(ctx)
		if err != nil {
			return err
		}
		if len(channelRows) == 0 {
			return fmt.Errorf("no channels registered; use %q first", "tgscan add")
		}
		channels := make([]string, 0, len(channelRows))
		for _, row := range channelRows {
			channels = append(channels, row.Username)
		}
		channels = tgurl.EnsureAts(channels)

		blobs, err := newBlobStore(ctx, p)
		if err != nil {
			return err
		}
		dialer, err := newDialer(p)
		if err != nil {
			return err
		}

		poolMetrics := metrics.NewPool(nil)
		if addr := viper.GetString("metrics-addr"); addr != "" {
			go func() {
				mux := http.NewServeMux()
				mux.Handle("/metrics", poolMetrics.Handler())
				if err := http.ListenAndServe(addr, mux); err != nil {
					slog.Warn("metrics server stopped", "error", err)
				}
			}()
		}

		scanner, err := account.NewScanner(ctx, blobs, dialer, account.ScannerOptions{
			Phones:    p.Phones,
			ChatCache: true,
			Pool: account.CollectionOptions{
				Invalid:           account.Policy(p.Invalid),
				MaxAccWaitingTime: p.MaxAccWaitingTime,
				Metrics:           poolMetrics,
			},
		})
		if err != nil {
			return err
		}
		// Revalidation prompts on the terminal, per account.
		for phone, acc := range scanner.Pool().Accounts() {
			acc.Code = codePrompt(phone)
			acc.Password = passwordPrompt(phone)
		}

		collector, err := stats.NewCollector(scanner, stats.CollectorOptions{Depth: p.Depth})
		if err != nil {
			return err
		}

		var pbar *progressBar
		var reporter account.ProgressReporter
		if !viper.GetBool("parallel") {
			pbar = newProgressBar(len(channels))
			reporter = pbar
		}

		msgs, chans, err := collector.CollectAll(ctx, channels, reporter)
		if pbar != nil {
			pbar.Finish()
		}
		if err != nil {
			return err
		}

		merged := stats.MergeChannelStats(chans, msgs)
		statRows := make([]store.StatRow, 0, len(merged))
		for _, ch := range merged {
			statRows = append(statRows, store.StatRow{
				Username:    ch.Username,
				Reach:       ch.Reach,
				Subscribers: ch.Subscribers,
			})
		}
		if err := statsStore.SaveStats(ctx, statRows); err != nil {
			return err
		}

		stats.SortMsgsNewestFirst(msgs)
		msgRows := make([]store.MsgRow, 0, len(msgs))
		for _, m := range msgs {
			msgRows = append(msgRows, store.MsgRow{
				Username: m.Username,
				Link:     m.Link,
				Reach:    m.Reach,
				Likes:    m.Likes,
				Replies:  m.Replies,
				Forwards: m.Forwards,
				Datetime: m.Datetime,
				Text:     m.Text,
			})
		}
		if err := statsStore.SaveMsgs(ctx, msgRows); err != nil {
			return err
		}

		slog.Info("collection finished", "channels", len(merged), "msgs", len(msgRows))
		return nil
	},
}

func init() {
	collectCmd.Flags().Int("depth", 0, "only collect messages newer than this many days; 0 means all")
	collectCmd.Flags().Bool("parallel", false, "scan channels in parallel instead of sequentially with a progress bar")
	collectCmd.Flags().String("metrics-addr", "", "expose Prometheus metrics on this address while collecting")

	for _, flag := range []string{"depth", "parallel", "metrics-addr"} {
		if err := viper.BindPFlag(flag, collectCmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(collectCmd)
}
