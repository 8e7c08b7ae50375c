// Package reminder decides, once per minute, which users get their daily
// meditation reminder and makes sure each user gets at most one per local day.
//
// The pieces:
//   - Check: pure due-check (instant + profile -> due in the user's zone?)
//   - Tracker: at-most-once dispatch records keyed by (user, local date)
//   - Scheduler: the tick driver tying both to a profile source and a sender
//
// A tick is expected to be triggered by a minute-granularity timer
// (see internal/task/scheduler). Calling Tick twice within the same UTC
// minute is a no-op.
package reminder
