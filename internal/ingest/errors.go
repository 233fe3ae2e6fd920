package ingest

import "errors"

var (
	// ErrInvalidPayload is returned for messages that do not decode into
	// measurement records or an error event.
	ErrInvalidPayload = errors.New("ingest: invalid payload")

	// ErrInvalidTopic is returned for topics outside smartplant/{plant_id}/{leaf}.
	ErrInvalidTopic = errors.New("ingest: invalid topic")
)
