package storage

import (
	"errors"
	"strings"

	"listwatch/pkg/logx"
)

// Open initializes the configured store for one source.
func Open(cfg Config, source string, log logx.Logger) (Store, error) {
	if strings.TrimSpace(source) == "" {
		return nil, errors.New("storage: source name is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "file":
		return openFile(cfg, source, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, source, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
