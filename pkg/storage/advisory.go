package storage

import (
	"hash/fnv"
	"io"

	"gorm.io/gorm"
)

// LockID derives the 64-bit signed advisory lock id for a job class +
// concurrency key pair.
func LockID(jobClass, concurrencyKey string) int64 {
	h := fnv.New64a()
	io.WriteString(h, jobClass)
	io.WriteString(h, "::")
	io.WriteString(h, concurrencyKey)
	return int64(h.Sum64())
}

// acquireEnqueueLock takes the transaction-scoped advisory lock for a
// class + key pair. The lock is released by the database on commit or
// rollback; a crash between acquire and commit cannot leave a
// permanent lock. SQLite has no advisory primitive; its single-writer
// transactions already serialize the enqueue decision.
func (s *GormStore) acquireEnqueueLock(tx *gorm.DB, jobClass, concurrencyKey string) error {
	if s.IsSQLite() {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(?)", LockID(jobClass, concurrencyKey)).Error
}
