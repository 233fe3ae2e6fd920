// Package api implements the HTTP REST API and WebSocket server for SmartPlant.
//
// This package provides:
//   - REST endpoints for users, gardens, plants and attached services
//   - Garden status and history aggregation over stored readings
//   - Manual watering and on-demand reading requests
//   - A WebSocket hub broadcasting plant actions, readings and errors
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//
// # Architecture
//
// Handlers are thin: they decode the request, call the garden manager,
// account service or plant processor, and map domain errors to HTTP
// status codes in one place (writeDomainError). Readings posted to
// /plants/{id}/measurements go through the same decision path as
// readings received over MQTT.
//
// # Graceful Degradation
//
// The server operates without MQTT. Reads and WebSocket connections work;
// only commands to controllers fail.
package api
