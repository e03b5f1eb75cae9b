// Package protocol owns the bus message contract.
//
// Ownership boundary:
// - message kinds (request, take, completed) and their fields
// - envelope encode/decode over frame + tlv
// - schema validation entry points
//
// A message is one frame whose header message_type mirrors the kind and whose
// payload carries the kind, signed target and source node as tlv fields.
package protocol
