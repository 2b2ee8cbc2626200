// Package maintenance runs periodic housekeeping of the limiters on cron
// schedules: sweeping idle keys out of local limiters, saving snapshots of
// local window logs and dropping snapshots past their retention.
//
// Schedules use standard cron syntax plus descriptors:
//
//   - "@every 5m"   - every five minutes
//   - "0 3 * * *"   - daily at 3 AM
//   - "@hourly"     - at the top of every hour
//
// A job that is still running when its next tick fires is skipped, so a slow
// snapshot never piles up behind itself.
package maintenance
