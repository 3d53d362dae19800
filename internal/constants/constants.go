package constants

// Advisory lock ids. Keep these stable: every engine instance pointed at the
// same database must agree on them.
const (
	MigrationLock = iota
	TriggerLoopLock
)

var Locks = []int{
	MigrationLock,
	TriggerLoopLock,
}

const (
	// LedgerAppendRetries bounds how often a failed ledger append is
	// retried before the attempt closure is declared failed.
	LedgerAppendRetries = 3
)
