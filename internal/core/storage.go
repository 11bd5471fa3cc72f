package core

import (
	"context"
	"fmt"
	"os"

	"batchcore/internal/infra/blob"
	blobs3 "batchcore/internal/infra/blob/s3"
	"batchcore/internal/infra/persistence/memory"
	"batchcore/internal/infra/persistence/postgres"
	"batchcore/internal/infra/persistence/sqlite"
	"batchcore/pkg/domain"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// OpenPersistentStore selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	BATCHCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	BATCHCORE_SQLITE_PATH: path to sqlite file (default ./batchcore.db)
//	BATCHCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *domain.RulesEngine) (domain.PersistentStore, error) {
	driver := os.Getenv("BATCHCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		path := os.Getenv("BATCHCORE_SQLITE_PATH")
		return sqlite.NewStore(path, engine)
	case StoragePostgres:
		dsn := os.Getenv("BATCHCORE_POSTGRES_DSN")
		return postgres.NewStore(dsn, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenBlobStore selects a blob backend using environment variables.
//
//	BATCHCORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	BATCHCORE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	(S3 specific variables documented in the s3 package)
func OpenBlobStore(ctx context.Context) (blob.Store, error) {
	driver := os.Getenv("BATCHCORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(blob.DriverFilesystem)
	}
	switch blob.Driver(driver) {
	case blob.DriverFilesystem:
		root := os.Getenv("BATCHCORE_BLOB_FS_ROOT")
		return blob.NewFilesystem(root)
	case blob.DriverS3:
		return blobs3.OpenFromEnv(ctx)
	case blob.DriverMemory:
		return blob.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
