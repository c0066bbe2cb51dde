package dealsync

import "errors"

var (
	// ErrSourceUnavailable is returned when the source API cannot be reached
	ErrSourceUnavailable = errors.New("deal source unavailable")

	// ErrSourceRequestFailed is returned when the source API answers with a non-2xx status
	ErrSourceRequestFailed = errors.New("deal source request failed")

	// ErrSourceRateLimited is returned when the source API throttles the caller
	ErrSourceRateLimited = errors.New("deal source rate limited")

	// ErrSourceInvalidResponse is returned when the source response envelope cannot be parsed
	ErrSourceInvalidResponse = errors.New("deal source returned an invalid response")

	// ErrDealNotFound is returned by the point lookup when the loan code is unknown upstream
	ErrDealNotFound = errors.New("deal not found at source")

	// ErrDecodeFailed is returned when a deal document does not match the RawDeal schema
	ErrDecodeFailed = errors.New("deal document failed to decode")

	// ErrTransformFailed is returned when a decoded deal cannot be normalized
	ErrTransformFailed = errors.New("deal failed to transform")

	// ErrInvalidWindow is returned for an empty or inverted date window
	ErrInvalidWindow = errors.New("invalid sync window")

	// ErrPartitionNotFound is returned when a partition does not exist
	ErrPartitionNotFound = errors.New("partition not found")

	// ErrPartitionAlreadyExists is returned when registering a duplicate partition name
	ErrPartitionAlreadyExists = errors.New("partition already exists")

	// ErrPartitionNameRequired is returned when registering a partition without a name
	ErrPartitionNameRequired = errors.New("partition name is required")

	// ErrResumePartitionNotFound is returned when the resume cursor names no known partition
	ErrResumePartitionNotFound = errors.New("resume partition not found")

	// ErrPartitionMissingCredentials is returned when a partition has no API key
	ErrPartitionMissingCredentials = errors.New("partition has no api key")

	// ErrFailureNotFound is returned when a ledger entry does not exist
	ErrFailureNotFound = errors.New("sync failure not found")

	// ErrInvalidTransition is returned when a partition run moves to a state it cannot reach
	ErrInvalidTransition = errors.New("invalid partition run transition")
)
