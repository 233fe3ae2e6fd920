// Package ingest connects plant controllers on MQTT to the decision engine.
//
// Handler subscribes to smartplant/+/measurement and smartplant/+/errors,
// decodes each payload and hands it to the plantcare processor.
// CommandPublisher goes the other way, publishing water and send_now
// commands to smartplant/{plant_id}/commands.
//
// DecodeMeasurements is shared with the HTTP ingestion endpoint so both
// paths accept the same payloads.
package ingest
