package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"crateloot.ai/internal/persistence/indexdb"
)

// openRuntimeIndex opens the sqlite blacklist store and loadout index.
// A nil index means the blacklist lives in memory only.
func openRuntimeIndex(dataDir string, disableDB bool) (*indexdb.SQLiteIndex, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("CL_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		dbPath := strings.TrimSpace(os.Getenv("CL_INDEX_SQLITE_PATH"))
		if dbPath == "" {
			dbPath = filepath.Join(dataDir, "index", "loot.sqlite")
		}
		return indexdb.OpenSQLite(dbPath)
	default:
		return nil, fmt.Errorf("unsupported CL_INDEX_BACKEND: %s", backend)
	}
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func defaultEnableAdminHTTP() bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv("DEPLOY_ENV"))) {
	case "staging", "production":
		return false
	default:
		return true
	}
}
