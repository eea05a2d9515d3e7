// Package starsync is the network-facing state-synchronization core of a
// real-time simulation server. The simulation exposes its externally
// visible state as properties: named, typed attributes of entities that
// remote clients can read, mutate, and subscribe to. Starsync owns
// everything between a committed property mutation and the bytes reaching
// each subscribed client.
//
// The pipeline is built from small packages:
//
//   - encodable: the closed value model (null, bool, int, scalar, text,
//     list, 3-vector) with JSON and CBOR codecs.
//   - property: validated, observable attributes with per-write fan-out.
//   - registry: the connection table (generational keys) and the two-way
//     subscription index joining properties to live sessions.
//   - session: transport-agnostic duplex channels over WebSocket and UDP,
//     built by single-use builders.
//   - listener: bound HTTP endpoints in plain, TLS, and HTTPS-redirect
//     modes with bounded graceful shutdown.
//   - eventfeed: an optional NATS mirror of the change stream.
//
// The starsyncd command wires these into a standalone server.
package starsync
