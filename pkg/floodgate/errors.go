package floodgate

import "errors"

var (
	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidCapacity is returned when capacity or max requests is not positive
	ErrInvalidCapacity = errors.New("capacity must be positive")

	// ErrInvalidRate is returned when a refill or leak rate is not a positive finite number
	ErrInvalidRate = errors.New("rate must be a positive finite number")

	// ErrInvalidWindow is returned when a window duration is not positive
	ErrInvalidWindow = errors.New("window must be positive")

	// ErrInvalidCost is returned when a negative or non-finite cost is passed to a check
	ErrInvalidCost = errors.New("cost must be a non-negative finite number")

	// ErrInvalidKey is returned when the client key is invalid or empty
	ErrInvalidKey = errors.New("client key cannot be empty")
)
