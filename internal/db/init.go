package db

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	_ "github.com/lib/pq"

	"flowfire/internal/constants"
	"flowfire/internal/lock"
)

const (
	baseDir = "./migrations"
	schema  = "flowfire_schema"
)

// Init connects to the database and runs schema initialization scripts. A
// distributed lock keeps concurrent engine instances from racing on the
// migration: only one runs it, the others wait on the advisory lock.
//
// Steps:
//  1. Open a connection using the given URL and verify it with a ping.
//  2. Acquire the migration advisory lock.
//  3. Create the engine schema if it does not exist.
//  4. Read and execute every SQL script under baseDir, in name order.
//
// The lock is released and the connection closed before returning.
func Init(postgresURL string, distributedLock lock.DistributedLockManager) error {
	db, err := sql.Open("postgres", postgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if err = db.Ping(); err != nil {
		return err
	}

	if err = distributedLock.Acquire(constants.MigrationLock); err != nil {
		return err
	}
	defer distributedLock.Release(constants.MigrationLock)

	_, err = db.Exec(fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", schema))
	if err != nil {
		return err
	}

	scripts, err := readSQLScripts()
	if err != nil {
		return err
	}
	for _, script := range scripts {
		if _, err := db.Exec(script); err != nil {
			return err
		}
	}

	log.Printf("db: %d migration script(s) applied", len(scripts))
	return nil
}

func readSQLScripts() ([]string, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return nil, err
	}

	var scripts []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(baseDir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		scripts = append(scripts, string(content))
	}

	return scripts, nil
}
