// Package processor runs the alarm effective-state pipeline.
//
// Every alarm is owned by one partition worker. Raw activations,
// registrations and override changes for an alarm are queued on its
// partition and pass through the stages in order:
//
//	transitions -> latch -> delay -> one-shot -> mask -> effective -> publish
//
// Stages that need to change overrides write to the Override Store; the
// store's change notification re-queues the owning alarm, so the rendered
// state always follows the store. Override expiry is handled by a separate
// scheduler sweeping the store on a cron schedule.
package processor
