package history

import (
	"fmt"

	"github.com/kandev/mcphost/internal/common/config"
)

// Provide opens the store selected by cfg.
func Provide(cfg config.HistoryConfig) (Store, func() error, error) {
	switch cfg.Driver {
	case "memory":
		s := NewMemoryStore()
		return s, s.Close, nil
	case "sqlite", "":
		s, err := OpenSQLite(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}
