package migrations

import (
	"context"
	"embed"
	"sort"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/felixgeelhaar/fieldsync/internal/shared/infrastructure/database"
)

//go:embed sqlite/*.sql postgres/*.sql
var migrationFS embed.FS

// Run executes every up migration for the connection's driver in order.
// Migrations use IF NOT EXISTS so repeated runs are safe.
func Run(ctx context.Context, conn database.Connection) error {
	return RunDir(ctx, conn, dirFor(conn.Driver()))
}

// RunDir executes the up migrations in one embedded directory.
func RunDir(ctx context.Context, exec database.Executor, dir string) error {
	files, err := upFiles(dir)
	if err != nil {
		return err
	}

	for _, file := range files {
		migration, err := migrationFS.ReadFile(dir + "/" + file)
		if err != nil {
			return errors.Wrapf(err, "read migration %s", file)
		}
		if _, err := exec.Exec(ctx, string(migration)); err != nil {
			return errors.Wrapf(err, "execute migration %s", file)
		}
	}
	return nil
}

func upFiles(dir string) ([]string, error) {
	entries, err := migrationFS.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read migrations directory %s", dir)
	}

	var files []string
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

func dirFor(driver database.Driver) string {
	if driver == database.DriverPostgres {
		return "postgres"
	}
	return "sqlite"
}
