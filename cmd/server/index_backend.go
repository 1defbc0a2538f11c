package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"machinesync.dev/internal/persistence/machinedb"
	"machinesync.dev/internal/persistence/snapshot"
	"machinesync.dev/internal/world"
)

type machineStore interface {
	world.MachineStore
	world.AuditLogger
	Close() error
}

func openMachineStore(dataDir string, disableDB bool, logger *log.Logger) (machineStore, error) {
	if disableDB {
		return nil, nil
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("MS_STORE_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return machinedb.OpenSQLite(filepath.Join(dataDir, "db", "machines.sqlite"))
	case "file":
		keep := envInt("MS_SNAPSHOT_KEEP", 8)
		return snapshot.NewFileStore(filepath.Join(dataDir, "snapshots"), keep, logger), nil
	default:
		return nil, fmt.Errorf("unsupported MS_STORE_BACKEND: %s", backend)
	}
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
