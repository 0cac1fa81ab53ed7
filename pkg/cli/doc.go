// Package cli implements gatehouse-admin, the offline administration tool.
//
// Every command opens the database named by -driver and -dsn (defaulting to
// GATEHOUSE_DB_DRIVER and GATEHOUSE_DB_DSN) and applies pending migrations
// before running.
//
// # Commands
//
// migrate-passwords: hash legacy plaintext passwords with bcrypt
//
//	gatehouse-admin migrate-passwords -dry-run
//	gatehouse-admin migrate-passwords -dsn postgres://db/gatehouse
//
// create-account: create an account, optionally with grants
//
//	gatehouse-admin create-account -username admin -password s3cret -grant admin,profiles
//
// grant: set one permission
//
//	gatehouse-admin grant -username alice -permission finance
//	gatehouse-admin grant -username alice -permission finance -deny
//
// permissions: print every permission for an account
//
//	gatehouse-admin permissions -username alice
//
// arrest: block an account from logging in or using any session
//
//	gatehouse-admin arrest -username mallory
//	gatehouse-admin arrest -username mallory -release
//
// purge-sessions: delete sessions past their expiry
//
//	gatehouse-admin purge-sessions
package cli
