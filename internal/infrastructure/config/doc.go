// Package config loads and validates MeshLab Core configuration.
//
// Configuration is read from a YAML file, then overridden by MESHLAB_*
// environment variables, then validated. Secrets (JWT secret, broker
// password, InfluxDB token) should come from the environment.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.MQTT.BaseTopic)
package config
