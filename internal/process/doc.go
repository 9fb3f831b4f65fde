// Package process supervises a long-running child daemon.
//
// The station can run its zigbee2mqtt bridge itself instead of relying on
// an externally managed one. A Supervisor starts the binary in its own
// process group, forwards its output to the logger line by line, restarts
// it with exponential backoff when it exits, and kills it when an optional
// health check fails repeatedly.
//
//	sup := process.NewSupervisor(process.FromConfig("zigbee2mqtt", cfg.Zigbee2MQTT.Process))
//	sup.SetLogger(log)
//	sup.SetHealthCheck(adapter.HealthCheck)
//	if err := sup.Start(ctx); err != nil {
//	    return err
//	}
//	defer sup.Stop()
package process
