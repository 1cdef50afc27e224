// Package mqtopics is the single source of truth for the pipeline's queue
// names, so the master, the per-netconfig schedulers, and client workers
// agree on where a message lands without repeating the naming scheme.
package mqtopics

import "github.com/oriys/stoneridge/internal/model"

// Intake is the queue submission intake publishes onto and the master
// drains.
const Intake = "intake"

// Outgoing is the queue client workers publish flattened results onto.
const Outgoing = "outgoing"

// Netconfig is the per-netconfig queue a scheduler instance drains.
func Netconfig(nc model.Netconfig) string {
	return "netconfig." + string(nc)
}

// Client is the per-(netconfig, os) queue a client worker listens on.
func Client(nc model.Netconfig, os model.OperatingSystem) string {
	return "client." + string(nc) + "." + string(os)
}
