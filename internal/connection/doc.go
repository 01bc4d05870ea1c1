// Package connection owns the WebSocket link to the venue.
//
// The Client:
//   - Owns one WebSocket link at a time (connect, close, connect again)
//   - Serializes every outbound frame through one write gate
//   - Runs one read loop and one keepalive loop per link, joined on close
//   - Reports unexpected disconnects on Lost(); it never retries itself
//
// The Correlator maps locally allocated request ids to pending results.
package connection
