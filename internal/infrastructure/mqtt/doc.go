// Package mqtt provides MQTT client connectivity for the Zigbee gateway.
//
// MQTT carries two kinds of traffic through the same broker:
//
//	coordinator ↔ broker ↔ gateway ↔ broker ↔ platform
//
// The coordinator side uses the zigbee2mqtt topic layout under a configurable
// base topic (see CoordinatorTopics). The platform side uses the flat
// graylogic/{category}/zigbee/{device} scheme (see Topics).
//
// The client reconnects automatically, restores tracked subscriptions after a
// reconnect and publishes a retained online/offline status with a Last Will
// for crash detection. Handlers run with panic recovery.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	coord := mqtt.CoordinatorTopics{Base: cfg.Zigbee.BaseTopic}
//	err = client.Subscribe(coord.BridgeEvent(), 1, handleEvent)
package mqtt
