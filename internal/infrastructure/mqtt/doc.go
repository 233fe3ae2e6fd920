// Package mqtt connects the SmartPlant backend to the MQTT broker that
// plant controllers talk to.
//
// Topic layout:
//
//	smartplant/{plant_id}/measurement   controller -> backend, QoS 0
//	smartplant/{plant_id}/errors        controller -> backend, QoS 1
//	smartplant/{plant_id}/commands      backend -> controller, QoS 1
//	smartplant/system/status            backend status, retained, LWT
//
// The client reconnects with backoff and replays its subscriptions after
// every reconnect. Handlers run on paho goroutines and are panic-safe.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllMeasurements(), 0, handler)
package mqtt
