// Package metrics provides constants used across metric definitions.
package metrics

import "time"

// Label value constants used for metric labels.
const (
	// StatusSuccess is the status label for successful operations.
	StatusSuccess = "success"
	// StatusError is the status label for failed operations.
	StatusError = "error"
)

// Histogram bucket configuration constants.
const (
	// BucketStart1us is the starting bucket for 1µs histograms (1µs to ~0.5s range).
	BucketStart1us = 0.000001
	// BucketStart10ms is the starting bucket for 10ms histograms (10ms to ~160s range).
	BucketStart10ms = 0.01
	// BucketStart64B is the starting bucket for 64 byte histograms.
	BucketStart64B = 64.0

	// BucketFactor2 is the common exponential growth factor of 2 for histogram buckets.
	BucketFactor2 = 2

	// BucketCount15 defines 15 exponential buckets.
	BucketCount15 = 15
	// BucketCount20 defines 20 exponential buckets.
	BucketCount20 = 20
)

// Time and conversion constants.
const (
	// ShutdownTimeout is the timeout for graceful shutdown operations.
	ShutdownTimeout = 5 * time.Second
)
