// Package jobs holds the pending call table shared by the arbiter and the
// dispatcher.
package jobs
