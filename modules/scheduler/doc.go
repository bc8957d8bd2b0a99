// Package scheduler executes due pending actions against the live system.
//
// Every poll interval the module reads the actions whose due time has passed,
// runs each one once and removes it from the store whatever the outcome.
// Webhook resubscriptions reschedule themselves, forming a periodic chain
// carried entirely by the pending action queue.
package scheduler
