package event

// Server events
const (
	BOOT_START          = "server-boot-start"
	BOOT_SUCCESS        = "server-boot-success"
	BOOT_ERROR          = "server-boot-error"
	BOOT_CONFIG_LOADING = "server-boot-config-loading"
	BOOT_CONFIG_LOADED  = "server-boot-config-loaded"
	BOOT_CONFIG_INVALID = "server-boot-config-invalid"
	BOOT_ENV_FILE       = "server-boot-env-file"

	BOOT_CATEGORIES_LOADED = "server-boot-categories-loaded"

	SERVER_RUN       = "server-run"
	SERVER_STOPPED   = "server-stopped"
	SERVER_API_ERROR = "server-api-error"
	SERVER_API_PANIC = "server-api-panic"

	INSTANCE_LOADER_LOADING = "instance-loader-loading"
	INSTANCE_LOADER_LOADED  = "instance-loader-loaded"
	INSTANCE_LOADER_ERROR   = "instance-loader-error"
	INSTANCE_CONFIG_ERROR   = "instance-config-error"

	REGISTER_SINK = "register-sink"

	VALUE_PARSE_ERROR = "value-parse-error"
)

// Monitor events
const (
	MONITOR_STARTED = "monitor-started"
	MONITOR_STOPPED = "monitor-stopped"
	MONITOR_PANIC   = "monitor-panic"

	AGENT_INIT = "agent-init"

	DB_CONNECTING            = "db-connecting"
	DB_CONNECTED             = "db-connected"
	DB_CONNECT_ERROR         = "db-connect-error"
	DB_CONN_INVALID          = "db-conn-invalid"
	DB_CONN_LOST             = "db-conn-lost"
	DB_CLOSE_ERROR           = "db-close-error"
	DB_VERSION_ERROR         = "db-version-error"
	DB_RELOAD_PASSWORD_ERROR = "db-reload-password-error"

	POLL_CYCLE_SKIPPED = "poll-cycle-skipped"
	POLL_CYCLE_DONE    = "poll-cycle-done"

	QUERY_ERROR         = "query-error"
	QUERY_CLOSE_ERROR   = "query-close-error"
	QUERY_UNKNOWN_SET   = "query-unknown-set"
	CATEGORY_SKIPPED    = "category-skipped"
	CATEGORY_UNDEFINED  = "category-undefined"
	METRIC_UNREGISTERED = "metric-unregistered"

	SINK_SEND_ERROR  = "sink-send-error"
	SINK_CLOSE_ERROR = "sink-close-error"
)
