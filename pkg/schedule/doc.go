// Package schedule computes occurrence times for recurring jobs.
//
// Four schedule kinds are provided: Every for fixed intervals, Daily
// and Weekly for wall-clock times, and Cron for five-field cron
// expressions with named months, named weekdays and @ aliases. All
// computation is UTC at whole-minute granularity.
//
// Applications normally reach these through the root conveyor package,
// which re-exports the constructors.
package schedule
