// Package catalog implements the persistent relational store of packages
// and links (spec §3, §4.6, §6). It is backed by SQLite (mattn/go-sqlite3)
// with schema versioning via rubenv/sql-migrate, and row scanning via
// jmoiron/sqlx.
package catalog

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
	migrate "github.com/rubenv/sql-migrate"

	_ "github.com/mattn/go-sqlite3"
)

// Catalog owns identity assignment; the filesystem owns artifact bytes.
// See spec §3 "Ownership".
type Catalog struct {
	db *sqlx.DB

	mu        sync.Mutex
	stmtCache map[string]*sqlx.Stmt
}

var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_initial",
			Up: []string{
				`CREATE TABLE packages (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					abstract_requirement TEXT NOT NULL,
					concrete_requirement TEXT,
					package_type TEXT NOT NULL,
					build_type TEXT,
					url TEXT NOT NULL,
					name TEXT,
					revision TEXT,
					etag TEXT,
					package_name TEXT,
					build_name TEXT,
					install_name TEXT,
					package_path TEXT,
					build_path TEXT,
					install_path TEXT,
					created_at DATETIME NOT NULL
				)`,
				`CREATE TABLE environments (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE,
					created_at DATETIME NOT NULL
				)`,
				`CREATE TABLE links (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					package_id INTEGER NOT NULL REFERENCES packages(id),
					environment_id INTEGER NOT NULL REFERENCES environments(id),
					abstract_requirement TEXT NOT NULL,
					created_at DATETIME NOT NULL
				)`,
				`CREATE TABLE shared_libraries (
					package_id INTEGER NOT NULL REFERENCES packages(id),
					path TEXT NOT NULL,
					soname TEXT,
					deps TEXT,
					unresolved TEXT,
					created_at DATETIME NOT NULL
				)`,
				`CREATE INDEX idx_links_package ON links(package_id)`,
				`CREATE INDEX idx_links_env ON links(environment_id)`,
			},
			Down: []string{
				`DROP TABLE shared_libraries`,
				`DROP TABLE links`,
				`DROP TABLE environments`,
				`DROP TABLE packages`,
			},
		},
	},
}

// Open opens (creating if absent) the SQLite catalog at path and migrates
// its schema to the latest version.
func Open(path string) (*Catalog, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	if _, err := migrate.Exec(db.DB, "sqlite3", migrations, migrate.Up); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate catalog schema: %w", err)
	}
	return &Catalog{db: db, stmtCache: make(map[string]*sqlx.Stmt)}, nil
}

func (c *Catalog) Close() error { return c.db.Close() }

// PackageRow mirrors the packages table (spec §6).
type PackageRow struct {
	ID                   int64     `db:"id"`
	AbstractRequirement  string    `db:"abstract_requirement"`
	ConcreteRequirement  string    `db:"concrete_requirement"`
	PackageType          string    `db:"package_type"`
	BuildType            string    `db:"build_type"`
	URL                  string    `db:"url"`
	Name                 string    `db:"name"`
	Revision             string    `db:"revision"`
	ETag                 string    `db:"etag"`
	PackageName          string    `db:"package_name"`
	BuildName            string    `db:"build_name"`
	InstallName          string    `db:"install_name"`
	PackagePath          string    `db:"package_path"`
	BuildPath            string    `db:"build_path"`
	InstallPath          string    `db:"install_path"`
	CreatedAt            time.Time `db:"created_at"`
}

// LinkRow mirrors the links table.
type LinkRow struct {
	ID                  int64     `db:"id"`
	PackageID           int64     `db:"package_id"`
	EnvironmentID       int64     `db:"environment_id"`
	AbstractRequirement string    `db:"abstract_requirement"`
	CreatedAt           time.Time `db:"created_at"`
}

// SharedLibraryRow mirrors the shared_libraries table (spec §4.7).
type SharedLibraryRow struct {
	PackageID  int64  `db:"package_id"`
	Path       string `db:"path"`
	SONAME     string `db:"soname"`
	Deps       string `db:"deps"`       // comma-joined resolved dependency paths
	Unresolved string `db:"unresolved"` // comma-joined unresolved dependency names
}

// InsertPackage records a package row within a single transactional write
// boundary (spec §5: "A transactional write boundary is required around
// each catalog insert.").
func (c *Catalog) InsertPackage(row PackageRow) (int64, error) {
	tx, err := c.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO packages (abstract_requirement, concrete_requirement,
			package_type, build_type, url, name, revision, etag,
			package_name, build_name, install_name,
			package_path, build_path, install_path, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, row.AbstractRequirement, row.ConcreteRequirement, row.PackageType, row.BuildType,
		row.URL, row.Name, row.Revision, row.ETag, row.PackageName, row.BuildName,
		row.InstallName, row.PackagePath, row.BuildPath, row.InstallPath, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert package: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert package: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit package insert: %w", err)
	}
	return id, nil
}

// EnsureEnvironment returns the id of the named environment, creating a row
// for it if one doesn't exist yet. Environments themselves are an external
// collaborator (spec §1); the catalog only needs a stable id to key links on.
func (c *Catalog) EnsureEnvironment(name string) (int64, error) {
	var id int64
	err := c.db.Get(&id, `SELECT id FROM environments WHERE name = ?`, name)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("lookup environment %s: %w", name, err)
	}
	res, err := c.db.Exec(`INSERT INTO environments (name, created_at) VALUES (?, ?)`, name, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("create environment %s: %w", name, err)
	}
	return res.LastInsertId()
}

// InsertLink records a link row.
func (c *Catalog) InsertLink(packageID, environmentID int64, abstractRequirement string) (int64, error) {
	res, err := c.db.Exec(`
		INSERT INTO links (package_id, environment_id, abstract_requirement, created_at)
		VALUES (?, ?, ?, ?)
	`, packageID, environmentID, abstractRequirement, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("insert link: %w", err)
	}
	return res.LastInsertId()
}

// FindLink returns the existing link row for (packageID, environmentID), if
// any.
func (c *Catalog) FindLink(packageID, environmentID int64) (*LinkRow, error) {
	var row LinkRow
	err := c.db.Get(&row, `SELECT * FROM links WHERE package_id = ? AND environment_id = ?`, packageID, environmentID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find link: %w", err)
	}
	return &row, nil
}

// IdentityFilter carries the non-null identity fields to match against, per
// spec §4.6 resolve_existing: "conjunctive equality on url, name, revision,
// etag, package_name, build_name, install_name as they happen to be set."
type IdentityFilter struct {
	URL         string
	Name        string
	Revision    string
	ETag        string
	PackageName string
	BuildName   string
	InstallName string
}

// columns in stable order; used both to build the WHERE clause and to key
// the statement cache (Design Notes: "a prepared statement is insufficient
// because the column set varies -- use a statement cache keyed by the set
// of predicates").
var optionalIdentityColumns = []string{"name", "revision", "etag", "package_name", "build_name", "install_name"}

func (f IdentityFilter) values() map[string]string {
	return map[string]string{
		"name":         f.Name,
		"revision":     f.Revision,
		"etag":         f.ETag,
		"package_name": f.PackageName,
		"build_name":   f.BuildName,
		"install_name": f.InstallName,
	}
}

// FindExisting implements spec §4.6 resolve_existing's query: conjunctive
// equality on whichever identity fields (url included) are set, optionally
// preferring rows already linked into env (ordering by link creation then
// package creation, both descending). It does not filter by filesystem
// existence; the caller (Package.ResolveExisting) does that per row,
// tolerating missing paths.
func (c *Catalog) FindExisting(f IdentityFilter, environmentID *int64) ([]PackageRow, error) {
	var clauses []string
	var args []interface{}
	if f.URL != "" {
		clauses = append(clauses, "url = ?")
		args = append(args, f.URL)
	}

	vals := f.values()
	var present []string
	for _, col := range optionalIdentityColumns {
		if v := vals[col]; v != "" {
			present = append(present, col)
		}
	}
	sort.Strings(present)
	for _, col := range present {
		clauses = append(clauses, col+" = ?")
		args = append(args, vals[col])
	}

	if len(clauses) == 0 {
		clauses = append(clauses, "1 = 1")
	}

	cacheKey := strings.Join(present, ",")
	if f.URL != "" {
		cacheKey = "url;" + cacheKey
	}
	if environmentID != nil {
		cacheKey += "|linked"
	}

	var query string
	if environmentID != nil {
		query = fmt.Sprintf(`
			SELECT packages.* FROM packages
			LEFT OUTER JOIN links ON packages.id = links.package_id AND links.environment_id = ?
			WHERE %s
			ORDER BY links.created_at DESC, packages.created_at DESC
		`, strings.Join(clauses, " AND "))
		args = append([]interface{}{*environmentID}, args...)
	} else {
		query = fmt.Sprintf(`
			SELECT packages.* FROM packages
			WHERE %s
			ORDER BY packages.created_at DESC
		`, strings.Join(clauses, " AND "))
	}

	stmt, err := c.preparedStatement(cacheKey, query)
	if err != nil {
		return nil, fmt.Errorf("prepare resolve_existing query: %w", err)
	}

	var rows []PackageRow
	if err := stmt.Select(&rows, args...); err != nil {
		return nil, fmt.Errorf("resolve_existing query: %w", err)
	}
	return rows, nil
}

func (c *Catalog) preparedStatement(key, query string) (*sqlx.Stmt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if stmt, ok := c.stmtCache[key]; ok {
		return stmt, nil
	}
	stmt, err := c.db.Preparex(query)
	if err != nil {
		return nil, err
	}
	c.stmtCache[key] = stmt
	return stmt, nil
}

// InsertSharedLibrary records relocation metadata for one binary (spec
// §4.7).
func (c *Catalog) InsertSharedLibrary(row SharedLibraryRow) error {
	_, err := c.db.Exec(`
		INSERT INTO shared_libraries (package_id, path, soname, deps, unresolved, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, row.PackageID, row.Path, row.SONAME, row.Deps, row.Unresolved, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("insert shared library %s: %w", row.Path, err)
	}
	return nil
}

// SharedLibrariesForPackage returns previously recorded relocation metadata
// for packageID.
func (c *Catalog) SharedLibrariesForPackage(packageID int64) ([]SharedLibraryRow, error) {
	var rows []SharedLibraryRow
	if err := c.db.Select(&rows, `SELECT package_id, path, soname, deps, unresolved FROM shared_libraries WHERE package_id = ?`, packageID); err != nil {
		return nil, fmt.Errorf("query shared libraries: %w", err)
	}
	return rows, nil
}

// InstallPathsUnder returns the install_path of the most recently recorded
// package row with the given install_name, or "" if there is none.
func (c *Catalog) InstallPathsUnder(installName string) (string, error) {
	var path string
	err := c.db.Get(&path, `SELECT install_path FROM packages WHERE install_name = ? ORDER BY created_at DESC LIMIT 1`, installName)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup install path for %s: %w", installName, err)
	}
	return path, nil
}
