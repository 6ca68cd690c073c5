// Package badger wraps BadgerDB/badgerhold as the crawl service's single
// persistent store: jobs, IP usage counters, job events, artifacts, and
// document identities all live in one embedded database file.
package badger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/crawlservice/internal/common"
	"github.com/timshannon/badgerhold/v4"
)

// DB manages the Badger database connection shared by every storage type.
type DB struct {
	store  *badgerhold.Store
	logger arbor.ILogger
	config *common.BadgerConfig
}

// NewDB opens (creating if needed) the Badger database at config.Path.
func NewDB(logger arbor.ILogger, config *common.BadgerConfig) (*DB, error) {
	if config.ResetOnStartup {
		if _, err := os.Stat(config.Path); err == nil {
			logger.Debug().Str("path", config.Path).Msg("deleting existing database (reset_on_startup=true)")
			if err := os.RemoveAll(config.Path); err != nil {
				logger.Warn().Err(err).Str("path", config.Path).Msg("failed to delete database directory")
			}
		}
	}

	if err := os.MkdirAll(config.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("opening badger database connection")

	options := badgerhold.DefaultOptions
	options.Dir = config.Path
	options.ValueDir = config.Path
	options.Logger = nil

	store, err := badgerhold.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	logger.Debug().Str("path", config.Path).Msg("badger database initialized")

	return &DB{store: store, logger: logger, config: config}, nil
}

// Store returns the underlying badgerhold store for storage types in this
// package to compose over.
func (d *DB) Store() *badgerhold.Store {
	return d.store
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// PathOf joins a relative filename under the database's sibling jobs
// directory; storage methods never construct job file paths directly.
func PathOf(jobsDir, jobID, rel string) string {
	return filepath.Join(jobsDir, jobID, rel)
}
