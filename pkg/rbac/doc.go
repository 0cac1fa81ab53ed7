// Package rbac authorizes inbound requests against a static route to
// permission table.
//
// # Overview
//
// Every user holds a set of named boolean permissions (admin, central_files,
// profiles, finance, file_server, bulletin, signal_routes). Each route
// template of the router requires at most one of them. A grant that was never
// written has the value DefaultPermissionValue, which is false.
//
// # Route Table
//
// The table is loaded once at startup from JSON or YAML:
//
//	routes:
//	  /api/permissions: admin
//	  /api/accounts/{username}: profiles
//	public:
//	  - /api/me
//
// Templates under "public" need a valid session but no permission. With
// strict routes enabled, Validate fails startup if the router has a route the
// table and exempt list do not cover:
//
//	table, err := rbac.LoadRouteTable("configs/routes.yaml")
//	if err := table.Validate(router, rbac.NewExemptList(rbac.DefaultExemptRoutes)); err != nil {
//		log.Fatal(err)
//	}
//
// # Authorization
//
// Authorizer.Authorize walks the states
//
//	UNAUTHENTICATED -> TOKEN_RESOLVED -> ARRESTED_CHECKED -> PERMISSION_CHECKED -> ALLOWED | DENIED
//
// Exempt routes are allowed before any token is required. Otherwise:
//
//	no token / unknown token   -> 401
//	arrested (or lookup error) -> 403 "Account is arrested"
//	undeclared route           -> 403, or allowed with a warning under UndeclaredAllow
//	grant missing or false     -> 403
//	grant lookup error         -> 500, error logged only
//
// Middleware.Handler is installed with router.Use so the matched path
// template, not the raw path, is what gets authorized.
package rbac
