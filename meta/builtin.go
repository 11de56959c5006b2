package meta

const (
	DEFAULT_UNIT         = ""
	DEFAULT_COUNTER_UNIT = "Operations/Second"

	STATEMENTS_UNIT = "Statements"
	ACTIVITIES_UNIT = "Activities"
	REQUESTS_UNIT   = "Requests"
	TIME_UNIT       = "Microseconds"
	PERCENTAGE_UNIT = "%"
	TIMES_UNIT      = "Times"
)

// builtin are gauges with known units. They are registered after category
// metrics, so they take precedence.
var builtin = map[string]string{
	"overview/total_app_commits":              STATEMENTS_UNIT,
	"overview/total_app_rollbacks":            STATEMENTS_UNIT,
	"overview/act_completed_total":            ACTIVITIES_UNIT,
	"overview/app_rqsts_completed_total":      REQUESTS_UNIT,
	"overview/avg_rqst_cpu_time":              TIME_UNIT,
	"overview/routine_time_rqst_percent":      PERCENTAGE_UNIT,
	"overview/rqst_wait_time_percent":         PERCENTAGE_UNIT,
	"overview/act_wait_time_percent":          PERCENTAGE_UNIT,
	"overview/io_wait_time_percent":           PERCENTAGE_UNIT,
	"overview/lock_wait_time_percent":         PERCENTAGE_UNIT,
	"overview/agent_wait_time_percent":        PERCENTAGE_UNIT,
	"overview/network_wait_time_percent":      PERCENTAGE_UNIT,
	"overview/section_proc_time_percent":      PERCENTAGE_UNIT,
	"overview/section_sort_proc_time_percent": PERCENTAGE_UNIT,
	"overview/compile_proc_time_percent":      PERCENTAGE_UNIT,
	"overview/transact_end_proc_time_percent": PERCENTAGE_UNIT,
	"overview/utils_proc_time_percent":        PERCENTAGE_UNIT,
	"overview/avg_lock_waits_per_act":         TIMES_UNIT,
	"overview/avg_lock_timeouts_per_act":      TIMES_UNIT,
	"overview/avg_deadlocks_per_act":          DEFAULT_UNIT,
	"overview/avg_lock_escals_per_act":        TIMES_UNIT,
	"overview/rows_read_per_rows_returned":    DEFAULT_UNIT,
	"overview/total_bp_hit_ratio_percent":     PERCENTAGE_UNIT,
	"connection_overview/connections":         DEFAULT_UNIT,
	"sql_overview/sql_statements":             DEFAULT_UNIT,
}
