// Package eventstream adapts broker topics into subscription event
// iterators.
//
// A Stream subscribes lazily: the broker subscription for a topic starts
// on the first Next of an Iterator and is shared by every iterator on the
// same exchange and routing key. The last Close of a topic releases it at
// the broker.
//
// Every delivery payload is decoded into a batch. A JSON array becomes a
// list of events and any other JSON value becomes a list of one, so
// resolvers always receive a list.
//
// Routing keys use AMQP topic syntax ("locations.mutation.#") and are mapped
// onto MQTT filters under the exchange: "documents/locations/mutation/#".
package eventstream
