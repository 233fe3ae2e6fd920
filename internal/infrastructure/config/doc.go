// Package config handles loading and validating SmartPlant Core configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with SMARTPLANT_* environment variables (envconfig)
//   - Validation of required fields
//   - Default value handling
//
// Sensitive values (MQTT password, weather API key, Telegram bot token,
// InfluxDB token) should be set via environment variables rather than
// committed to the config file.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
