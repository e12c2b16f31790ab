package surfcache

import "errors"

// API boundary errors. Frame-internal resource pressure (atlas full,
// eviction exhausted) is by contract not an error: those conditions
// surface only through UpdateStats counters.
var (
	// ErrSceneClosed is returned when operating on a closed scene.
	ErrSceneClosed = errors.New("surfcache: scene is closed")

	// ErrInvalidConfig is returned when a configuration fails
	// validation.
	ErrInvalidConfig = errors.New("surfcache: invalid configuration")

	// ErrInvalidGroup is returned when a group description cannot
	// yield cards.
	ErrInvalidGroup = errors.New("surfcache: invalid group description")

	// ErrNilBackend is returned when a nil backend is installed.
	ErrNilBackend = errors.New("surfcache: backend is nil")
)
