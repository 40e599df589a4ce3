// Package schedule provides firing schedules for recurring maintenance
// tasks, most notably the lease expiry sweep.
//
// This package includes:
//   - Schedule interface for defining cadences
//   - Every() for fixed-interval schedules
//   - Daily() for daily schedules at a specific time
//   - Cron() for cron expression-based schedules
package schedule
