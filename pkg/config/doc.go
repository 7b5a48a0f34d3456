// Package config loads the tenancy service configuration with viper.
//
// Values come from built-in defaults, then an optional YAML file named by
// TENANCY_CONFIG_FILE, then TENANCY_* environment variables. Nested keys map
// to variables by replacing dots with underscores:
//
//	TENANCY_SERVER_PORT="9090"
//	TENANCY_DATABASE_DRIVER="postgres"   # postgres or sqlite3
//	TENANCY_DATABASE_DSN="postgres://localhost/tenancy?sslmode=disable"
//	TENANCY_CACHE_ENABLED="true"
//	TENANCY_CACHE_REDIS_URL="redis://localhost:6379/0"
//	TENANCY_CACHE_L1_TTL="1m"
//	TENANCY_OBSERVABILITY_LOG_LEVEL="info"   # debug, info, warn, error
//	TENANCY_OBSERVABILITY_OTEL_ENABLED="false"
//	TENANCY_OBSERVABILITY_OTEL_SAMPLE_RATIO="1.0"
//	TENANCY_OBSERVABILITY_ENVIRONMENT="development"
//	TENANCY_CATALOG_OVERLAY_PATH="/etc/tenancy/catalog.yaml"
//	TENANCY_NODE_ID="1"
//
// Load validates the result before returning it.
package config
