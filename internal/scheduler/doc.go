// Package scheduler runs deferred and repeating tasks inside the process.
//
// A Scheduler owns an ordered registry of live tasks (sorted by next fire
// time) and dispatches them in one of two modes:
//   - timeout: every task owns a single-shot timer armed for its fire time
//   - interval: one periodic sweep fires every task that became due
//
// Tasks are built with the named constructors (NewTimeout, NewIntervalCron,
// ...) or with NewTask and a Params value. Outcomes are reported to the
// task's callbacks and, for tasks built with Inform, to the Events channel.
package scheduler
