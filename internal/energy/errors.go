package energy

import "errors"

// Validation failures. All of them are detected before any state is mutated.
var (
	ErrInvalidCoordinates    = errors.New("invalid coordinates")
	ErrUnknownTile           = errors.New("tile not found")
	ErrMissingField          = errors.New("missing required field")
	ErrInvalidCapacity       = errors.New("capacity must be greater than 0")
	ErrDuplicateTileLocation = errors.New("a tile already exists at this location")
	ErrInvalidEnergy         = errors.New("electricity_wh must be a non-negative number")
)
