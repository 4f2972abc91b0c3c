package constants

import "time"

// Advisory lock ids used with the PostgreSQL lock manager.
const (
	MigrationLock = iota + 1
	PollLock
)

var Locks = []int{
	MigrationLock,
	PollLock,
}

// LockKey names a lock id for key based lock backends such as Redis.
func LockKey(lockID int) string {
	switch lockID {
	case MigrationLock:
		return "keyfire:lock:migration"
	case PollLock:
		return "keyfire:lock:poll"
	}
	return "keyfire:lock:unknown"
}

const (
	// PollLockTTL bounds how long a crashed poller can hold the Redis lock.
	PollLockTTL = 5 * time.Minute

	// MaxDeliveryAttempts is how often a failing message is handed to the consumer.
	MaxDeliveryAttempts = 3

	Schema    = "keyfire"
	JobsTable = Schema + ".jobs"
)
