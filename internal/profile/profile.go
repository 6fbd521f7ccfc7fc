package profile

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Default pool check-out timeout, see Profile.MaxAccWaitingTime.
const defaultMaxAccWaitingTime = 300 * time.Second

// Profile is the configuration for a tgscan run.
type Profile struct {
	// Mode is "prod" or "dev".
	Mode string

	// APIID and APIHash identify the application to Telegram. Required only
	// when a new session has to be established (login / revalidate).
	APIID   int
	APIHash string

	// MaxAccWaitingTime bounds how long a caller may wait for an account to
	// become available before the pool gives up.
	MaxAccWaitingTime time.Duration

	// Data is the local data directory, used to derive default DSNs.
	Data string

	// Driver and DSN select the statistics database ("sqlite" or "postgres").
	Driver string
	DSN    string

	// BlobDriver and BlobDSN select the blob store holding session strings,
	// the session lock and the chat cache. "dir" treats BlobDSN as a local
	// directory; "sqlite" and "postgres" use a key/value table.
	BlobDriver string
	BlobDSN    string

	// Phones lists the account phone numbers. Empty means discover them from
	// the blob store by globbing "*.session".
	Phones []string

	// Invalid is the account start-up policy: "ignore", "raise" or "revalidate".
	Invalid string

	// Depth limits collection to messages newer than now minus Depth days.
	Depth int

	Version string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv loads the Telegram application credentials and pool tuning from
// environment variables. Flag-bound fields are left untouched.
func (p *Profile) FromEnv() {
	p.APIID = getEnvOrDefaultInt("API_ID", p.APIID)
	p.APIHash = getEnvOrDefault("API_HASH", p.APIHash)

	if secs := getEnvOrDefaultInt("MAX_ACC_WAITING_TIME", 0); secs > 0 {
		p.MaxAccWaitingTime = time.Duration(secs) * time.Second
	}
}

func (p *Profile) Validate() error {
	if p.Mode != "prod" && p.Mode != "dev" {
		p.Mode = "dev"
	}

	switch p.Invalid {
	case "":
		p.Invalid = "ignore"
	case "ignore", "raise", "revalidate":
	default:
		return errors.Errorf("invalid policy %q, want ignore, raise or revalidate", p.Invalid)
	}

	if p.MaxAccWaitingTime <= 0 {
		p.MaxAccWaitingTime = defaultMaxAccWaitingTime
	}

	switch p.Driver {
	case "sqlite", "postgres":
	case "":
		p.Driver = "sqlite"
	default:
		return errors.Errorf("unknown database driver %q", p.Driver)
	}

	switch p.BlobDriver {
	case "dir", "sqlite", "postgres":
	case "":
		p.BlobDriver = "dir"
	default:
		return errors.Errorf("unknown blob driver %q", p.BlobDriver)
	}

	if p.Data == "" {
		p.Data = "."
	}
	if p.DSN == "" {
		if p.Driver != "sqlite" {
			return errors.New("dsn required")
		}
		p.DSN = filepath.Join(p.Data, "tgscan.db")
	}
	if p.BlobDriver == "dir" && p.BlobDSN == "" {
		p.BlobDSN = p.Data
	}

	if p.Invalid == "revalidate" && (p.APIID == 0 || p.APIHash == "") {
		return errors.New("API_ID and API_HASH are required to establish new sessions")
	}

	return nil
}
