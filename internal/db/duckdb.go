// Package db holds the in-memory DuckDB handle used to query recorded
// response streams.
package db

import (
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/marcboeker/go-duckdb"
)

// extensions are loaded into every new handle
var extensions = []string{"json"}

var (
	mu       sync.Mutex
	instance *sql.DB
)

// GetDB returns the shared in-memory DuckDB handle, opening it on first use
func GetDB() (*sql.DB, error) {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		return instance, nil
	}

	conn, err := open()
	if err != nil {
		return nil, err
	}
	instance = conn
	return instance, nil
}

// Close releases the shared handle. A later GetDB opens a fresh one.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if instance == nil {
		return nil
	}
	err := instance.Close()
	instance = nil
	return err
}

func open() (*sql.DB, error) {
	conn, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open DuckDB: %w", err)
	}

	// an in-memory database exists per connection
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	for _, ext := range extensions {
		if _, err := conn.Exec("INSTALL " + ext); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to install %s extension: %w", ext, err)
		}
		if _, err := conn.Exec("LOAD " + ext); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to load %s extension: %w", ext, err)
		}
	}

	return conn, nil
}
