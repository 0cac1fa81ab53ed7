// Package audit records security-relevant events: logins, logouts,
// registrations and every admin mutation of accounts, grants, and sessions.
//
// Events flow through a Logger. The server composes them as
//
//	audit.NewAsyncLogger(audit.NewMultiLogger(
//		audit.NewLogrusLogger(logger),
//		dbLogger,
//	), audit.DefaultAsyncConfig(), logger)
//
// so handlers never block on the sink. DBLogger also implements Reader for
// GET /api/audit and Prune for the maintenance scheduler's retention job.
package audit
