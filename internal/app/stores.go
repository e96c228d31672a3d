package app

import (
	"github.com/cockroachdb/errors"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/domain"
	"github.com/felixgeelhaar/fieldsync/internal/fieldservice/infrastructure/persistence"
	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/database"
	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/outbox"
)

// stores are the repositories that share the container's connection.
type stores struct {
	syncRecords domain.SyncRecordRepository
	outbox      outbox.Repository
}

var storesByDriver = map[database.Driver]func(database.Connection) stores{
	database.DriverSQLite: func(conn database.Connection) stores {
		return stores{
			syncRecords: persistence.NewSQLiteSyncRecordRepository(conn),
			outbox:      outbox.NewSQLiteRepository(conn),
		}
	},
	database.DriverPostgres: func(conn database.Connection) stores {
		return stores{
			syncRecords: persistence.NewPostgresSyncRecordRepository(conn),
			outbox:      outbox.NewPostgresRepository(conn),
		}
	},
}

// openStores picks the repository flavour for conn's driver.
func openStores(conn database.Connection) (stores, error) {
	build, ok := storesByDriver[conn.Driver()]
	if !ok {
		return stores{}, errors.Newf("no repositories for database driver %s", conn.Driver())
	}
	return build(conn), nil
}
