// Package bridge is the root of the IoT bridge: a real-time broker between
// physical devices (cameras, RFID readers, arduinos) and frontend user
// sessions over websockets, with a synchronous HTTP control surface.
//
// # Architecture
//
// The core is the identity registry and the event router:
//
//   - registry: two identity tables (devices, users) mapping stable logical
//     IDs to live transport sessions, with type-scoped listing.
//   - router: delivers named events to one identity or broadcasts to every
//     identity of a category; offline targets are normal negative results.
//
// Around the core:
//
//   - transport: websocket hub with event-framed envelopes, ping/pong
//     keepalive and per-connection reader goroutines.
//   - broker: the event protocol. Registration, command forwarding between
//     device classes, RFID warning checks against the alert backend and
//     camera capture uploads.
//   - alertservice: HTTP client for the external alerting backend.
//   - gateway/http: REST control surface for registry inspection and
//     on-demand command dispatch.
//   - mirror: optional NATS tap publishing inbound events for downstream
//     integrations.
//
// The bridge holds no durable state: registry contents live and die with
// the process, and delivery is best-effort at-most-once.
package bridge
