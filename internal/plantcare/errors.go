package plantcare

import "errors"

var (
	// ErrExternalService wraps store and transport failures that abort a
	// decision. Forecast failures never surface as errors; the engine falls
	// back to its cached forecast instead.
	ErrExternalService = errors.New("plantcare: external service failure")

	// ErrNotManaged is returned when a plant belongs to no twin carrying
	// the PlantManagement service.
	ErrNotManaged = errors.New("plantcare: plant is not managed")

	// ErrInvalidConfig is returned by Configure for malformed attachment
	// configuration.
	ErrInvalidConfig = errors.New("plantcare: invalid service config")

	// ErrInvalidCalibration is returned by Calibrate for a point other
	// than dry or wet.
	ErrInvalidCalibration = errors.New("plantcare: calibration point must be dry or wet")
)
