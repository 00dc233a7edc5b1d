package world

import (
	"database/sql"
	"sync"

	"golang.org/x/mod/semver"
	_ "modernc.org/sqlite"
)

// ModuleCache persists compiled bytecode keyed by source hash so repeated
// imports of the same module across process runs skip recompilation. It is
// grounded on internal/database/database.go's *sql.DB connection pattern,
// narrowed to the one pure-Go driver (modernc.org/sqlite) the embedded
// cache needs — see DESIGN.md for why the rest of that file's driver
// constellation (mysql/postgres/mssql/mongo) has no home here.
type ModuleCache struct {
	mu     sync.Mutex
	db     *sql.DB
	search []string
}

// NewModuleCache opens (creating if absent) an in-memory SQLite-backed
// cache. An embedder that wants cross-process persistence points Path at a
// real file via Open.
func NewModuleCache(searchPaths []string) *ModuleCache {
	mc := &ModuleCache{search: searchPaths}
	db, err := sql.Open("sqlite", "file:unclmodcache?mode=memory&cache=shared")
	if err != nil {
		// A cache that can't open still lets the VM run (imports just always
		// recompile); only Get/Put degrade, New itself never fails.
		return mc
	}
	mc.db = db
	mc.init()
	return mc
}

// Open points the cache at a real file path instead of the default
// in-memory database, for an embedder that wants the cache to survive
// across process runs.
func (mc *ModuleCache) Open(path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?cache=shared")
	if err != nil {
		return err
	}
	mc.mu.Lock()
	if mc.db != nil {
		mc.db.Close()
	}
	mc.db = db
	mc.mu.Unlock()
	return mc.init()
}

func (mc *ModuleCache) init() error {
	if mc.db == nil {
		return nil
	}
	_, err := mc.db.Exec(`CREATE TABLE IF NOT EXISTS modules (
		source_hash TEXT PRIMARY KEY,
		version     TEXT NOT NULL,
		bytecode    BLOB NOT NULL
	)`)
	return err
}

// Get looks up a cached compiled program by source hash, rejecting the
// entry if its recorded version compares older than minVersion (spec's
// module cache carries the module's version tag alongside the program).
func (mc *ModuleCache) Get(sourceHash, minVersion string) ([]byte, bool) {
	mc.mu.Lock()
	db := mc.db
	mc.mu.Unlock()
	if db == nil {
		return nil, false
	}
	var version string
	var code []byte
	row := db.QueryRow(`SELECT version, bytecode FROM modules WHERE source_hash = ?`, sourceHash)
	if err := row.Scan(&version, &code); err != nil {
		return nil, false
	}
	if minVersion != "" && semver.IsValid(version) && semver.IsValid(minVersion) && semver.Compare(version, minVersion) < 0 {
		return nil, false
	}
	return code, true
}

// Put records code as the compiled form of sourceHash at version.
func (mc *ModuleCache) Put(sourceHash, version string, code []byte) error {
	mc.mu.Lock()
	db := mc.db
	mc.mu.Unlock()
	if db == nil {
		return nil
	}
	_, err := db.Exec(`INSERT INTO modules (source_hash, version, bytecode) VALUES (?, ?, ?)
		ON CONFLICT(source_hash) DO UPDATE SET version = excluded.version, bytecode = excluded.bytecode`,
		sourceHash, version, code)
	return err
}

func (mc *ModuleCache) SearchPaths() []string { return mc.search }

func (mc *ModuleCache) Close() error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	if mc.db == nil {
		return nil
	}
	return mc.db.Close()
}
