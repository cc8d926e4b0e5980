// Package config handles loading and validating MQTT gateway configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (MQTTGW_*)
//   - Validation of required fields
//   - Default value handling
//
// The declared device list is deliberately not validated here. The gateway
// starts with an empty or missing list and waits until one is supplied
// (see the device package).
//
// Security Considerations:
//   - Broker passwords and tokens should be set via environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.Broker.Host)
package config
