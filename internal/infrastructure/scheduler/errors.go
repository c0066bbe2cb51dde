package scheduler

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrInvalidConcurrency is returned when a batch asks for more parallel partitions than allowed
	ErrInvalidConcurrency = errors.New("partition concurrency must be between 0 and 10")

	// ErrBatchInProgress is returned when another batch holds the batch lock
	ErrBatchInProgress = errors.New("another sync batch is already running")

	// ErrLockLost is the cancellation cause when the batch lock could not be refreshed
	ErrLockLost = errors.New("sync batch lock lost")

	// ErrPartitionPanicked is recorded on a partition whose sync panicked
	ErrPartitionPanicked = errors.New("partition sync panicked")

	// ErrPartitionNotRun is recorded on partitions the batch never reached
	ErrPartitionNotRun = errors.New("partition not run before batch stopped")
)
