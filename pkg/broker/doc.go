// Package broker provides the embedded MQTT broker used by gqlgateway when
// no external broker is configured.
//
// The broker wraps a mochi-mqtt server with the inline client enabled, so
// the gateway can publish and subscribe in-process without a network hop.
// A TCP listener is added only when an address is configured, which lets
// external tools and the publish command reach the same broker.
//
// # Basic Usage
//
//	b, err := broker.New(broker.Config{Addr: ":1883"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := b.Start(context.Background()); err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Stop(context.Background(), 5*time.Second)
//
//	id, err := b.Subscribe("documents/locations/mutation/#", func(topic string, payload []byte) {
//	    fmt.Println(topic, string(payload))
//	})
package broker
