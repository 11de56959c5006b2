// Copyright 2022 Block, Inc.

// Package status provides real-time status of the server and every monitor.
// The only caller is server.API via GET /status.
package status

import (
	"fmt"
	"sync"
)

// Monitor components
const (
	CONNECTION = "connection"
	POLL_CYCLE = "poll-cycle"
	LAST_CYCLE = "last-cycle"
)

type status struct {
	*sync.Mutex
	server   map[string]string
	monitors map[string]map[string]string // monitorId => component => status
}

var s = &status{
	Mutex:    &sync.Mutex{},
	server:   map[string]string{},
	monitors: map[string]map[string]string{},
}

// Server sets the status of a server component.
func Server(component, msg string, args ...interface{}) {
	s.Lock()
	s.server[component] = fmt.Sprintf(msg, args...)
	s.Unlock()
}

// Monitor sets the status of a monitor component.
func Monitor(monitorId, component string, msg string, args ...interface{}) {
	s.Lock()
	defer s.Unlock()
	if _, ok := s.monitors[monitorId]; !ok {
		s.monitors[monitorId] = map[string]string{}
	}
	s.monitors[monitorId][component] = fmt.Sprintf(msg, args...)
}

func RemoveComponent(monitorId, component string) {
	s.Lock()
	if m, ok := s.monitors[monitorId]; ok {
		delete(m, component)
	}
	s.Unlock()
}

func RemoveMonitor(monitorId string) {
	s.Lock()
	delete(s.monitors, monitorId)
	s.Unlock()
}

func ReportServer() map[string]string {
	s.Lock()
	defer s.Unlock()
	status := make(map[string]string, len(s.server))
	for k, v := range s.server {
		status[k] = v
	}
	return status
}

// ReportMonitors returns a copy of the status of all monitors.
func ReportMonitors() map[string]map[string]string {
	s.Lock()
	defer s.Unlock()
	status := make(map[string]map[string]string, len(s.monitors))
	for monitorId, components := range s.monitors {
		c := make(map[string]string, len(components))
		for k, v := range components {
			c[k] = v
		}
		status[monitorId] = c
	}
	return status
}

// Reset removes all status. It is used for testing.
func Reset() {
	s.Lock()
	s.server = map[string]string{}
	s.monitors = map[string]map[string]string{}
	s.Unlock()
}
