package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

type Config struct {
	Backend     Backend
	SQLitePath  string
	DatabaseURL string
	// Debug logs every statement gorm issues.
	Debug bool
}

func ParseBackend(raw string) (Backend, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return BackendSQLite, nil
	}
	switch raw {
	case "sqlite":
		return BackendSQLite, nil
	case "postgres", "postgresql", "pg", "postgis":
		return BackendPostgres, nil
	default:
		return "", fmt.Errorf("unsupported db backend %q (expected sqlite or postgres)", raw)
	}
}

func Open(cfg Config) (*gorm.DB, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = BackendSQLite
	}
	gcfg := &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	}
	if cfg.Debug {
		gcfg.Logger = gormlogger.Default.LogMode(gormlogger.Info)
	}
	switch backend {
	case BackendSQLite:
		if strings.TrimSpace(cfg.SQLitePath) == "" {
			return nil, errors.New("sqlite path is required")
		}
		return openSQLite(cfg.SQLitePath, gcfg)
	case BackendPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, errors.New("DATABASE_URL is required when DB_BACKEND=postgres")
		}
		return openPostgres(cfg.DatabaseURL, gcfg)
	default:
		return nil, fmt.Errorf("unsupported db backend %q", backend)
	}
}

// sqlitePragmas are applied through the DSN so that every pooled connection gets them.
var sqlitePragmas = []string{
	"busy_timeout(5000)",
	"foreign_keys(1)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

func sqliteDSN(path string) string {
	var b strings.Builder
	b.WriteString(path)
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	for _, p := range sqlitePragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

func openSQLite(dbPath string, gcfg *gorm.Config) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(sqliteDSN(dbPath)), gcfg)
	if err != nil {
		return nil, err
	}
	if err := migrate(gdb, BackendSQLite); err != nil {
		return nil, err
	}
	return gdb, nil
}

func openPostgres(databaseURL string, gcfg *gorm.Config) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(databaseURL), gcfg)
	if err != nil {
		return nil, err
	}
	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS postgis;`).Error; err != nil {
		return nil, fmt.Errorf("enable postgis: %w", err)
	}
	if err := migrate(gdb, BackendPostgres); err != nil {
		return nil, err
	}
	return gdb, nil
}

// columnTypes holds the backend specific pieces of the DDL.
type columnTypes struct {
	iterator string
	uuid     string
	line     string
	point    string
	json     string
}

func typesFor(backend Backend) columnTypes {
	if backend == BackendPostgres {
		return columnTypes{
			iterator: "BIGSERIAL PRIMARY KEY",
			uuid:     "UUID",
			line:     "geometry(LINESTRING,4326)",
			point:    "geometry(POINT,4326)",
			json:     "JSONB",
		}
	}
	// sqlite keeps geometry as EWKT text
	return columnTypes{
		iterator: "INTEGER PRIMARY KEY AUTOINCREMENT",
		uuid:     "TEXT",
		line:     "TEXT",
		point:    "TEXT",
		json:     "TEXT",
	}
}

func migrate(gdb *gorm.DB, backend Backend) error {
	t := typesFor(backend)
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS transect (
			iterator ` + t.iterator + `,
			id ` + t.uuid + ` NOT NULL UNIQUE,
			name TEXT NOT NULL UNIQUE,
			description TEXT,
			length DOUBLE PRECISION,
			depth DOUBLE PRECISION,
			geom ` + t.line + `,
			owner ` + t.uuid + `,
			created_on TEXT NOT NULL,
			last_updated TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_transect_owner ON transect(owner);`,

		`CREATE TABLE IF NOT EXISTS submission (
			iterator ` + t.iterator + `,
			id ` + t.uuid + ` NOT NULL UNIQUE,
			name TEXT,
			comment TEXT,
			status TEXT,
			transect_id ` + t.uuid + ` REFERENCES transect(id) ON DELETE SET NULL,
			geom ` + t.point + `,
			owner ` + t.uuid + `,
			time_added_utc TEXT NOT NULL,
			last_updated TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_submission_transect_id ON submission(transect_id);`,
		`CREATE INDEX IF NOT EXISTS idx_submission_owner ON submission(owner);`,

		`CREATE TABLE IF NOT EXISTS inputobject (
			iterator ` + t.iterator + `,
			id ` + t.uuid + ` NOT NULL UNIQUE,
			submission_id ` + t.uuid + ` REFERENCES submission(id) ON DELETE SET NULL,
			filename TEXT NOT NULL,
			size_bytes BIGINT,
			transect_id ` + t.uuid + ` REFERENCES transect(id) ON DELETE CASCADE,
			owner ` + t.uuid + `,
			time_added_utc TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_inputobject_transect_id ON inputobject(transect_id);`,
		`CREATE INDEX IF NOT EXISTS idx_inputobject_submission_id ON inputobject(submission_id);`,

		`CREATE TABLE IF NOT EXISTS submission_data (
			iterator ` + t.iterator + `,
			submission_id ` + t.uuid + ` NOT NULL REFERENCES submission(id) ON DELETE CASCADE,
			row_index INTEGER NOT NULL,
			row_values ` + t.json + ` NOT NULL,
			UNIQUE(submission_id, row_index)
		);`,
	}
	if backend == BackendPostgres {
		stmts = append(stmts, `CREATE INDEX IF NOT EXISTS idx_transect_geom ON transect USING GIST (geom);`)
	}

	for _, stmt := range stmts {
		if err := gdb.Exec(stmt).Error; err != nil {
			return err
		}
	}
	if err := ensureColumn(gdb, "submission", "owner", t.uuid); err != nil {
		return err
	}
	if err := ensureColumn(gdb, "transect", "owner", t.uuid); err != nil {
		return err
	}
	return ensureColumn(gdb, "inputobject", "owner", t.uuid)
}

// ensureColumn adds a nullable column to databases created before it existed.
func ensureColumn(gdb *gorm.DB, table, name, sqlType string) error {
	if gdb.Migrator().HasColumn(table, name) {
		return nil
	}
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s;", table, name, sqlType)
	return gdb.Exec(stmt).Error
}
