// Package node wires one car's registry, arbiter, dispatcher, controller,
// bus and driver together and runs them until the context ends.
package node
