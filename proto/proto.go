// Package proto provides the JSON types returned by the server API.
package proto

// Status is returned by GET /status.
type Status struct {
	Started       string            // ISO timestamp (UTC)
	Uptime        int64             // seconds
	InstanceCount uint              // number of instances loaded
	Internal      map[string]string // server components
	Version       string            // dbpoll version
}

// Registered is returned by GET /registered.
type Registered struct {
	Sinks      []string
	Categories []string
}

// Instance is returned by GET /instances, one per instance.
type Instance struct {
	MonitorId  string
	Target     string // user@host/database, never the password
	Dialect    string
	Freq       string
	Categories []string
	Running    bool
	LastCycle  string `json:",omitempty"` // ISO timestamp of last metrics
	Metrics    int    // number of metrics in last cycle
}

