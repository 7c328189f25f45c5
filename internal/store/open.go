package store

import "fmt"

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open builds the store for the named backend.
func Open(backend, dataDir, sqlitePath string) (Store, error) {
	switch backend {
	case BackendFile:
		return NewFileStore(dataDir)
	case BackendSQLite:
		return OpenSQLite(sqlitePath)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", backend)
	}
}
