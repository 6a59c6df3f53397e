package migrations

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed sql/postgres/*.sql sql/sqlite/*.sql
var files embed.FS

// MigrateStore applies the embedded migrations matching the dialect of db.
func MigrateStore(db *gorm.DB) error {
	goose.SetLogger(&logger{})

	dialect, dir := "postgres", "sql/postgres"
	if db.Dialector.Name() == "sqlite" {
		dialect, dir = "sqlite3", "sql/sqlite"
	}

	sub, err := fs.Sub(files, dir)
	if err != nil {
		return fmt.Errorf("failed to open migrations for %s: %w", dialect, err)
	}
	goose.SetBaseFS(sub)

	if err := goose.SetDialect(dialect); err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}

	return goose.Up(sqlDB, ".")
}

/*
logger implements goose.Logger interface

	type Logger interface {
		Fatalf(format string, v ...interface{})
		Printf(format string, v ...interface{})
	}
*/
type logger struct{}

func (m *logger) Printf(format string, v ...interface{}) { zap.S().Named("goose").Infof(format, v...) }
func (m *logger) Fatalf(format string, v ...interface{}) { zap.S().Named("goose").Fatalf(format, v...) }
