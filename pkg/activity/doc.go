// Package activity records successful sign-ins to the login_activity table
// and enforces its retention.
//
// Recorder implements rbac.ActivityRecorder. Each Record call schedules one
// insert through async.Go and returns immediately; the returned channel
// reports the insert's outcome to callers that care, and failures are logged
// and counted either way.
//
// Sweeper runs on a cron schedule, optionally archives expiring rows to S3 as
// JSON lines, then deletes them.
package activity
