// Package api serves the gatehouse HTTP API.
//
// # Routes
//
//	GET  /                                  exempt   service banner
//	GET  /login                             exempt   login hint
//	POST /api/register                      exempt   {username, password}
//	POST /api/login                         exempt   {username, password} -> {token, expires_at}, sets cookie
//	POST /api/verify-token                  exempt   {token} -> {verified}
//	POST /api/logout                        exempt   revokes the presented token
//	GET  /api/me                            public   caller's profile
//	POST /api/permissions                   admin    {username, permission, value}
//	GET  /api/permissions/{username}        admin    default-filled grant map
//	POST /api/accounts/{username}/arrest    admin    {arrested}
//	POST /api/accounts/{username}/password  admin    {password}
//	POST /api/sessions/revoke               admin    {token}
//	GET  /api/accounts/{username}           profiles cached profile
//
// Every route registered on the router passes through the rbac middleware,
// so a route missing from the route table fails NewServer when StrictRoutes
// is set. Feature modules mount through Dependencies.Registrars.
//
// Errors are always {"error": "<message>"}. Storage failures are logged and
// answered with a generic 500.
package api
