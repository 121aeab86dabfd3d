// Package config loads bodystore configuration from an optional YAML file
// and environment variables.
//
// # Sources
//
// Defaults are applied first, then the YAML file named by
// BODYSTORE_CONFIG_FILE, then environment variables. The merged result is
// validated before it is returned.
//
// Server settings:
//
//	BODYSTORE_HOST="0.0.0.0"
//	BODYSTORE_PORT="8080"
//	BODYSTORE_HEALTH_PORT="9090"
//	BODYSTORE_MAX_BODY_BYTES="10485760"
//
// Write path settings:
//
//	BODYSTORE_BATCH_SIZE="100"
//	BODYSTORE_PARALLEL_WRITERS="4"
//	BODYSTORE_BATCH_TIMEOUT="500ms"
//	BODYSTORE_INGRESS_CAPACITY="10000"
//	BODYSTORE_MAX_RETRIES="3"
//	BODYSTORE_RETRY_BASE_DELAY="1s"
//
// Storage settings:
//
//	BODYSTORE_STORAGE_TYPE="postgres"  # postgres, s3, inline, memory, disabled
//	BODYSTORE_POSTGRES_URL="postgres://localhost/bodystore"
//	BODYSTORE_POSTGRES_REPLICA_URLS="postgres://replica1/bodystore,postgres://replica2/bodystore"
//	BODYSTORE_S3_BUCKET="message-bodies"
//	BODYSTORE_S3_REGION="us-east-1"
//
// Cache settings:
//
//	BODYSTORE_CACHE_ENABLED="true"
//	BODYSTORE_REDIS_URL="redis://localhost:6379"
//	BODYSTORE_L1_CACHE_SIZE="1000"
//
// Retention settings:
//
//	BODYSTORE_DEFAULT_RETENTION="720h"
//	BODYSTORE_PURGE_SCHEDULE="@every 10m"
//
// # Reloading
//
// Watch follows the configuration file. Only settings that are safe to change
// at runtime, currently the log level, are applied by the daemon.
package config
