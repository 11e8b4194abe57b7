package server

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// Migrate applies database migrations from dir (e.g. file://migrations)
// against dsn. direction is "up" or "down"; steps limits the count, 0
// meaning all. A no-change run is not an error.
func Migrate(dir, dsn, direction string, steps int) error {
	if dir == "" {
		dir = "file://migrations"
	}
	if dsn == "" {
		return fmt.Errorf("migrate: postgres dsn is required")
	}

	m, err := migrate.New(dir, dsn)
	if err != nil {
		return err
	}
	defer m.Close()

	switch direction {
	case "up":
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case "down":
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("unknown direction: %s", direction)
	}
	if errors.Is(err, migrate.ErrNoChange) {
		return nil
	}
	return err
}
