// Package arbiter owns call arbitration between nodes.
//
// Ownership boundary:
// - bid cost for a hall call against the local car
// - inbound request/take/completed handling against the job registry
// - outbound announcements and self-echo suppression
// - button lamps for hall calls
//
// Every node bids on every call by delaying it in its own registry. The
// cheapest node's timer fires first; it announces take, which pushes every
// other node's deadline out by the takeover timeout.
package arbiter
