// Package floodgate is the import convenience for the admission control
// library. The engines live in pkg/floodgate; this package re-exports the
// types most callers need so `import "github.com/yourusername/floodgate"`
// is enough for the common case.
package floodgate

import (
	"github.com/yourusername/floodgate/pkg/floodgate"
)

// Re-export the core contract.
type (
	Limiter       = floodgate.Limiter
	Decision      = floodgate.Decision
	StateSnapshot = floodgate.StateSnapshot
	Stats         = floodgate.Stats
	Algorithm     = floodgate.Algorithm
	Option        = floodgate.Option
	Config        = floodgate.Config
	PolicyConfig  = floodgate.PolicyConfig
)

const (
	AlgorithmFixedWindow      = floodgate.AlgorithmFixedWindow
	AlgorithmTokenBucket      = floodgate.AlgorithmTokenBucket
	AlgorithmLeakyBucket      = floodgate.AlgorithmLeakyBucket
	AlgorithmSlidingWindowLog = floodgate.AlgorithmSlidingWindowLog
)

// Engine constructors.
var (
	NewFixedWindow      = floodgate.NewFixedWindow
	NewTokenBucket      = floodgate.NewTokenBucket
	NewLeakyBucket      = floodgate.NewLeakyBucket
	NewSlidingWindowLog = floodgate.NewSlidingWindowLog
)

// Configuration.
var (
	NewConfig          = floodgate.NewConfig
	LoadConfigFromFile = floodgate.LoadConfigFromFile
)

// Options.
var (
	WithClock             = floodgate.WithClock
	WithDefaultCost       = floodgate.WithDefaultCost
	WithIdleTimeout       = floodgate.WithIdleTimeout
	WithSweepInterval     = floodgate.WithSweepInterval
	WithSweepErrorHandler = floodgate.WithSweepErrorHandler
)
