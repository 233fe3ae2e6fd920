// Package garden groups plants into gardens and answers aggregate queries
// over them.
//
// A garden is a twin holding its owner's user entity and its plant
// entities, with PlantManagement, GardenHistoryService and
// GardenStatusService attached. The two aggregation services are
// stateless reducers over already-fetched plant documents:
//
//   - GardenHistoryService filters readings to a rolling day, week or
//     month window and reports count, min, max, mean and population
//     standard deviation per measurement type.
//   - GardenStatusService reports each plant's latest humidity and light
//     reading together with the engine's pending triggers.
//
// Manager owns the lifecycle: creating gardens, adding, moving, updating
// and removing plants, and keeping the owner's owned_gardens and
// owned_plants lists in step.
package garden
