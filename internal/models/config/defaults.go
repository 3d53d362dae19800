package config

import "time"

const (
	DefaultWorkerCount    = 5
	DefaultQueueDepth     = 64
	DefaultOverlapPolicy  = OverlapDrop
	DefaultPendingCap     = 1
	DefaultTickInterval   = time.Second
	DefaultHandlerTimeout = 5 * time.Minute
)
