// Package autoscaler resizes worker services from queue backlog.
//
// For every target a Controller reads the queue's backlog and the replica
// count of each service draining it. Above the scale-up threshold it adds
// one replica to the target's scale service, below the scale-down threshold
// it removes one, always staying within the target's min and max summed
// over all services. Read failures skip the tick; scale failures are logged.
package autoscaler
