package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/hrygo/tgscan/blob"
	"github.com/hrygo/tgscan/internal/profile"
	"github.com/hrygo/tgscan/internal/version"
	"github.com/hrygo/tgscan/telegram/gotd"
)

var rootCmd = &cobra.Command{
	Use:   "tgscan",
	Short: `Telegram channel statistics collector running on a pool of user accounts.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Try to load .env file from current directory (ignore error if file doesn't exist)
		_ = godotenv.Load()
		return nil
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("blob-driver", "dir")

	rootCmd.PersistentFlags().String("mode", "dev", `mode, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "statistics database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "statistics database source name (aka. DSN)")
	rootCmd.PersistentFlags().String("blob-driver", "dir", "blob store driver (dir, sqlite, postgres)")
	rootCmd.PersistentFlags().String("blob-dsn", "", "blob store DSN; a directory for the dir driver")
	rootCmd.PersistentFlags().StringSlice("phones", nil, "account phone numbers; empty discovers *.session blobs")
	rootCmd.PersistentFlags().String("invalid", "ignore", `what to do with unusable sessions: "ignore", "raise" or "revalidate"`)

	for _, flag := range []string{"mode", "data", "driver", "dsn", "blob-driver", "blob-dsn", "phones", "invalid"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("tgscan")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

// loadProfile assembles the profile from flags and environment.
func loadProfile() (*profile.Profile, error) {
	p := &profile.Profile{
		Mode:       viper.GetString("mode"),
		Data:       viper.GetString("data"),
		Driver:     viper.GetString("driver"),
		DSN:        viper.GetString("dsn"),
		BlobDriver: viper.GetString("blob-driver"),
		BlobDSN:    viper.GetString("blob-dsn"),
		Phones:     viper.GetStringSlice("phones"),
		Invalid:    viper.GetString("invalid"),
		Version:    version.GetCurrentVersion(viper.GetString("mode")),
	}
	p.FromEnv()
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// newBlobStore opens the blob store named by the profile.
func newBlobStore(ctx context.Context, p *profile.Profile) (blob.Store, error) {
	switch p.BlobDriver {
	case "dir":
		return blob.NewDir(p.BlobDSN)
	case "sqlite":
		return blob.NewSQLite(ctx, p.BlobDSN)
	case "postgres":
		return blob.NewPostgres(ctx, p.BlobDSN)
	default:
		return nil, fmt.Errorf("unsupported blob driver %q", p.BlobDriver)
	}
}

// newDialer builds the gotd dialer with the application credentials.
func newDialer(p *profile.Profile) (*gotd.Dialer, error) {
	log := zap.NewNop()
	if p.IsDev() {
		if dev, err := zap.NewDevelopment(); err == nil {
			log = dev
		}
	}
	return gotd.NewDialer(p.APIID, p.APIHash, gotd.WithLogger(log))
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), terminationSignals...)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
