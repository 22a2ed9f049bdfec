// Package mqtt is the gateway's connection to the message bus.
//
// MQTT is the northbound side of the bridge: group level changes observed
// on the C-Bus network are published as retained state messages, and
// commands arriving on the bus are relayed to C-Gate.
//
//	C-Gate <-> gateway <-> broker <-> subscribers
//
// The wrapper covers what paho.mqtt.golang leaves to the caller:
//
//   - subscriptions are tracked and replayed after every reconnect
//   - message handlers run behind panic recovery, so one bad payload
//     cannot kill paho's dispatch goroutine
//   - a retained online/offline status is kept on graylogic/system/status,
//     with an LWT so subscribers can tell a crash from a clean shutdown
//
// Topic strings come from the Topics builders, which encode the flat
// graylogic/{category}/{protocol}/{address} scheme shared by every bridge
// on the bus.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.BridgeCommands("cbus"), 1, handleCommand)
//
// TLS and broker credentials come from the config file's mqtt section;
// anonymous plaintext is for local development only.
package mqtt
