package lock

// DistributedLockManager guards operations that must run on at most one
// engine instance per database: schema migration and the trigger loop.
type DistributedLockManager interface {
	Acquire(lockID int) error
	TryAcquire(lockID int) (bool, error)
	Release(lockID int) error
}
