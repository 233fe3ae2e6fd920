package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes for the SmartPlant MQTT hierarchy.
//
// Plant controllers publish and subscribe under smartplant/{plant_id}/...
// The backend's own status lives under smartplant/system.
const (
	// TopicPrefix is the root of every SmartPlant topic.
	TopicPrefix = "smartplant"

	// TopicPrefixSystem is the base for backend system topics.
	TopicPrefixSystem = "smartplant/system"
)

// Leaf names under smartplant/{plant_id}.
const (
	leafMeasurement = "measurement"
	leafErrors      = "errors"
	leafCommands    = "commands"
)

// Topics provides builders for SmartPlant MQTT topics.
//
//	topics := mqtt.Topics{}
//	topics.PlantCommands("p-123") // "smartplant/p-123/commands"
type Topics struct{}

// PlantMeasurement returns the topic a controller publishes readings on.
//
// Example: smartplant/p-123/measurement
func (Topics) PlantMeasurement(plantID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, plantID, leafMeasurement)
}

// PlantErrors returns the topic a controller publishes error events on.
//
// Example: smartplant/p-123/errors
func (Topics) PlantErrors(plantID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, plantID, leafErrors)
}

// PlantCommands returns the topic a controller listens on for commands.
//
// Example: smartplant/p-123/commands
func (Topics) PlantCommands(plantID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefix, plantID, leafCommands)
}

// SystemStatus returns the backend status topic (also used for the LWT).
//
// Example: smartplant/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllMeasurements matches readings from every plant.
//
// Pattern: smartplant/+/measurement
func (Topics) AllMeasurements() string {
	return fmt.Sprintf("%s/+/%s", TopicPrefix, leafMeasurement)
}

// AllErrors matches error events from every plant.
//
// Pattern: smartplant/+/errors
func (Topics) AllErrors() string {
	return fmt.Sprintf("%s/+/%s", TopicPrefix, leafErrors)
}

// AllTopics matches every SmartPlant topic.
//
// Pattern: smartplant/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// PlantID extracts the plant id from a smartplant/{plant_id}/{leaf} topic.
// The second return is false for topics outside that shape, including the
// system topics.
func PlantID(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 3 || parts[0] != TopicPrefix || parts[1] == "" {
		return "", false
	}
	if parts[1] == "system" || parts[1] == "+" || parts[1] == "#" {
		return "", false
	}
	return parts[1], true
}
