package storage

import (
	"context"
	"fmt"
	"strings"

	logx "framesched/pkg/logx"
)

// Store is the persistence API used by the trace recorder and the debug server.
type Store interface {
	AppendTrace(ctx context.Context, e TraceEntry) error
	// RecentTraces returns matching entries, newest first.
	RecentTraces(ctx context.Context, q Query) ([]TraceEntry, error)
	Close() error
}

type opener func(Config, logx.Logger) (Store, error)

var drivers = map[string]opener{
	"file":    openFile,
	"sqlite":  openSQLite,
	"sqlite3": openSQLite,
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	open, ok := drivers[driver]
	if !ok {
		return nil, fmt.Errorf("unknown storage driver: %s", driver)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	st, err := open(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", driver, err)
	}
	log.Debug("trace store opened",
		logx.String("driver", driver),
		logx.String("path", cfg.Path),
		logx.Duration("retention", cfg.Retention),
	)
	return st, nil
}
