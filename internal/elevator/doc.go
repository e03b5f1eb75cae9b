// Package elevator owns the car movement state machine.
//
// Ownership boundary:
// - startup recovery to a known floor
// - accepting one order at a time while idle
// - stops for pending calls along the way
// - door dwell, obstruction and stop handling
//
// All state changes happen on the Run goroutine.
package elevator
