// Package db selects the database driver from the profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/hrygo/tgscan/internal/profile"
	"github.com/hrygo/tgscan/store"
	"github.com/hrygo/tgscan/store/db/postgres"
	"github.com/hrygo/tgscan/store/db/sqlite"
)

// NewDriver creates a new database driver based on the profile.
func NewDriver(profile *profile.Profile) (store.Driver, error) {
	switch profile.Driver {
	case "sqlite":
		return sqlite.NewDB(profile)
	case "postgres":
		return postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unsupported database driver %q", profile.Driver)
	}
}
