// Package influxdb records SmartPlant time series in InfluxDB v2.
//
// Every accepted sensor reading becomes a plant_measurement point and every
// executed engine action a plant_action point, so dashboards can chart
// humidity against watering without reading the entity store.
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	processor.SetRecorder(client)
//
// Writes are batched per batch_size/flush_interval. A nil *Client ignores
// every write.
package influxdb
