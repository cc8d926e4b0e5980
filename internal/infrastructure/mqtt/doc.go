// Package mqtt is the gateway's broker connection manager.
//
// This package manages:
//   - The disconnected/connecting/connected state machine
//   - Per-topic subscriptions with logged outcomes
//   - A single automatic reconnect after an unexpected disconnect
//   - Polling reconnection while the gateway waits for the broker
//   - Last Will and Testament plus retained online/offline status
//
// # Architecture
//
// Devices publish telemetry to the broker; the gateway subscribes to every
// topic the topic registry knows and hands each message to the dispatch
// engine. Commands flow the other way through Publish.
//
//	Devices ↔ MQTT Broker ↔ Client ↔ dispatch / node commands
//
// paho's automatic reconnect is disabled. The gateway needs to observe each
// attempt so it can post a notice while the broker is away, so reconnection
// is driven from here (handleDisconnect, WaitConnected).
//
// # Ordering
//
// Messages are delivered one at a time, in arrival order, on paho's router
// goroutine. Handlers run with panic recovery; an error or panic is logged
// and the next message is processed.
//
// # Usage
//
//	client := mqtt.New(cfg.MQTT)
//	client.SetLogger(logger)
//	if err := client.Connect(ctx); err != nil {
//	    // keep waiting with a notice
//	    _ = client.WaitConnected(ctx, 3*time.Second, onWaiting)
//	}
//	defer client.Close()
//
//	results := client.SubscribeAll(topics, engine.OnMessage)
package mqtt
