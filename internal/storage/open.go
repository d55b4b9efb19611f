package storage

import (
	"fmt"

	"recordscope/internal/interfaces"
	"recordscope/internal/types"
)

// Open returns the StateStore selected by driver
func Open(driver, path string) (interfaces.StateStore, error) {
	switch driver {
	case types.StateDriverSQLite, "":
		return NewSQLiteStore(path)
	case types.StateDriverBadger:
		return NewBadgerStore(DefaultBadgerConfig(path))
	case types.StateDriverMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown state driver %q", driver)
	}
}
