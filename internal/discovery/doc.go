// Package discovery reconciles the declared device list against the live
// node registry.
//
// A pass runs on startup, on the controller's DISCOVER command, on
// POST /api/v1/discover and whenever the device list changes:
//
//	┌──────────────┐   List()   ┌────────────┐  Add()/Delete()  ┌──────────────┐
//	│ device.Store │──────────▶│ Reconciler │────────────────▶│ nodes.Registry│
//	└──────────────┘            └────────────┘                  └──────────────┘
//	                               │      ▲                            │
//	            RegisterTopics()   │      └──── Confirm(address) ◀─────┘
//	            UnregisterTopics() ▼                 (EventAdded)
//	                       ┌─────────────────┐
//	                       │ topics.Registry │
//	                       └─────────────────┘
//
// Node creation is asynchronous. For every missing device the reconciler
// opens a one-shot channel keyed by the address, requests the node and waits
// for Confirm to close it, bounded by the create timeout. The queued
// addition can still land after the timeout. Such an address stays
// pending-create and is not swept as stale; a late Confirm adopts the node,
// or deletes it if its device was removed in the meantime.
//
// # Thread Safety
//
// A pass holds the write side of Guard for its whole duration. The dispatch
// engine try-read-locks the same mutex and drops messages while a pass is
// running.
package discovery
