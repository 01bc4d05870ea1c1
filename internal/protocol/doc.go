// Package protocol implements the wire codec for the venue's streaming API.
//
// Outbound:
//   - One struct per command shape (authorize, ticks, balance, proposal,
//     buy, proposal_open_contract, forget, ping)
//   - Encode marshals a command to a JSON text frame
//
// Inbound:
//   - Decode reads the msg_type tag and returns one variant of Message
//   - Unknown tags decode to *UnknownMessage
//   - Money fields use Amount (fixed point, 2 dp, number or numeric string)
package protocol
