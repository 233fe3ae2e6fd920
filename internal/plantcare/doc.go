// Package plantcare implements the plant-care decision engine.
//
// The Engine turns one measurement into an action (none, notify_humidity,
// notify_light or water with a pulse duration) using the plant's preset
// thresholds and its private state kept in metadata.management_info.
// Before each branch it refreshes the cached forecast when the preset's
// cooldown has elapsed; a failed or slow fetch leaves the cache as is.
//
// The Processor wires the engine to the outside world: it loads the
// plant, resolves the PlantManagement service of the plant's twin,
// prefetches a due forecast, then under a per-plant lock appends the
// readings, evaluates the latest humidity and light readings and persists
// the plant before publishing commands, notifying the owner and
// broadcasting events.
//
// RegisterServices adds the PlantManagement, WeatherForecastService and
// AutoWateringService implementations to a twin.Catalog.
package plantcare
