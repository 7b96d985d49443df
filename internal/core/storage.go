package core

import (
	"context"
	"fmt"
	"os"

	"cruciblecore/internal/blob"
	blobfs "cruciblecore/internal/blob/fs"
	blobmem "cruciblecore/internal/blob/memory"
	blobs3 "cruciblecore/internal/blob/s3"
	"cruciblecore/internal/infra/persistence/memory"
	"cruciblecore/internal/infra/persistence/postgres"
	"cruciblecore/internal/infra/persistence/sqlite"
	"cruciblecore/pkg/domain"
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
//	CRUCIBLECORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	CRUCIBLECORE_SQLITE_PATH: path to sqlite file (default ./cruciblecore.db)
//	CRUCIBLECORE_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenPersistentStore(engine *domain.RulesEngine) (PersistentStore, error) {
	driver := os.Getenv("CRUCIBLECORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite:
		return sqlite.NewStore(os.Getenv("CRUCIBLECORE_SQLITE_PATH"), engine)
	case StoragePostgres:
		return postgres.NewStore(os.Getenv("CRUCIBLECORE_POSTGRES_DSN"), engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}

// OpenBlobStore selects the journal archive backend using environment
// variables.
//
//	CRUCIBLECORE_BLOB_DRIVER: fs|s3|memory (default fs)
//	CRUCIBLECORE_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
//	(S3 specific variables documented in the s3 package)
func OpenBlobStore(ctx context.Context) (blob.Store, error) {
	driver := os.Getenv("CRUCIBLECORE_BLOB_DRIVER")
	if driver == "" {
		driver = string(blob.DriverFilesystem)
	}
	switch blob.Driver(driver) {
	case blob.DriverFilesystem:
		return blobfs.New(os.Getenv("CRUCIBLECORE_BLOB_FS_ROOT"))
	case blob.DriverS3:
		return blobs3.OpenFromEnv(ctx)
	case blob.DriverMemory:
		return blobmem.New(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
