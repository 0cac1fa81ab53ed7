// Package config loads gatehouse configuration from GATEHOUSE_* environment
// variables.
//
// # Variables
//
//	GATEHOUSE_HOST, GATEHOUSE_PORT, GATEHOUSE_HEALTH_PORT     listener addresses
//	GATEHOUSE_DB_DRIVER, GATEHOUSE_DB_DSN                     sqlite3 (default) or postgres
//	GATEHOUSE_REDIS_URL                                       shared login limiter
//	GATEHOUSE_SESSION_DURATION                                default 2h
//	GATEHOUSE_LOGIN_MAX_ATTEMPTS, GATEHOUSE_LOGIN_WINDOW      default 5 per 5m
//	GATEHOUSE_ALLOW_LEGACY_PASSWORDS                          upgrade plaintext rows at login
//	GATEHOUSE_ROUTE_TABLE                                     YAML or JSON route table
//	GATEHOUSE_EXEMPT_ROUTES                                   comma separated, "*" suffix for prefixes
//	GATEHOUSE_STRICT_ROUTES                                   fail startup on unmapped routes
//	GATEHOUSE_UNDECLARED_ROUTES                               deny (default) or allow
//	GATEHOUSE_TRUSTED_PROXIES                                 CIDRs whose forwarding headers are honored
//	GATEHOUSE_LOG_LEVEL, GATEHOUSE_LOG_FORMAT                 logrus level, json or text
//	GATEHOUSE_OTEL_ENABLED, GATEHOUSE_OTEL_ENDPOINT           OTLP gRPC trace and metric export
//	GATEHOUSE_OTEL_INSECURE, GATEHOUSE_OTEL_SERVICE_NAME      plaintext gRPC (default), service.name
//	GATEHOUSE_MAINTENANCE_SCHEDULE                            cron spec for session purge
//	GATEHOUSE_AUDIT_ENABLED, GATEHOUSE_AUDIT_RETENTION        audit trail, default 90 days
//	GATEHOUSE_DOCS_ENABLED                                    serve /openapi.yaml and Swagger UI
//
// LoadConfig validates the result; Validate can be called again after
// programmatic changes.
package config
