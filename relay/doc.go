// Package relay forwards dongle events to WebSocket clients and passes
// their touch and command input back to the dongle.
//
// Routes:
//
//	GET /ws       event stream and control channel
//	GET /healthz  connection state as JSON
//	GET /metrics  Prometheus exposition
//
// Video frames and PCM audio are sent as binary messages whose first byte
// is [BinaryVideo] or [BinaryAudio], followed by little-endian uint32
// fields and the payload. Every other event is a JSON text message.
//
// Clients send [Control] messages as JSON text. A "viewport" control gives
// the client's canvas size; later touches are then read in canvas pixels and
// mapped onto the letterboxed video, and touches that land in the bars are
// ignored.
package relay
