// Package override implements the Override Store: the durable mapping from
// (alarm, override kind) to the active override record.
//
// Every change is appended to the journal topic before the in-memory view is
// updated and subscribers are told, so the view can always be rebuilt by
// replaying the topic.
package override
