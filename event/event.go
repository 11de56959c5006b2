// Copyright 2024 Block, Inc.

// Package event provides a simple event stream in lieu of standard logging.
package event

import (
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/dbpoll/dbpoll"
)

// Event is something that happened in dbpoll. Events replace traditional
// logging. MonitorId is empty for server events.
type Event struct {
	Ts        time.Time `json:"ts"`
	Event     string    `json:"event"`
	MonitorId string    `json:"monitor_id,omitempty"`
	Message   string    `json:"message,omitempty"`
	Error     bool      `json:"error,omitempty"`
}

// A Receiver sends events to a destination. Implementations must not block.
type Receiver interface {
	Recv(Event)
}

// SetReceiver sets the receiver for all events. The default is Log. Users
// call it with override=true before server.Boot, which calls it with
// override=false so that it does not replace the user receiver.
func SetReceiver(r Receiver, override bool) {
	recvmux.Lock()
	defer recvmux.Unlock()
	if userSet && !override {
		return
	}
	receiver = r
	if override {
		userSet = true
	}
}

var (
	receiver Receiver = Log{}
	userSet           = false
	recvmux           = &sync.Mutex{}
)

var subscribers = []Receiver{}
var submux = &sync.Mutex{}

// Subscribe adds a receiver that gets a copy of every event.
func Subscribe(r Receiver) {
	submux.Lock()
	subscribers = append(subscribers, r)
	submux.Unlock()
}

func RemoveSubscribers() {
	submux.Lock()
	subscribers = []Receiver{}
	submux.Unlock()
}

// Send sends an event with no message.
func Send(eventName string) {
	send(Event{Ts: time.Now(), Event: eventName})
}

// Sendf sends an event and formatted message.
func Sendf(eventName string, msg string, args ...interface{}) {
	send(Event{
		Ts:      time.Now(),
		Event:   eventName,
		Message: fmt.Sprintf(msg, args...),
	})
}

// Errorf sends an event flagged as an error with a formatted message.
func Errorf(eventName string, msg string, args ...interface{}) {
	send(Event{
		Ts:      time.Now(),
		Event:   eventName,
		Message: fmt.Sprintf(msg, args...),
		Error:   true,
	})
}

func send(e Event) {
	recvmux.Lock()
	r := receiver
	recvmux.Unlock()
	r.Recv(e)

	submux.Lock()
	for _, s := range subscribers {
		s.Recv(e)
	}
	submux.Unlock()
}

// --------------------------------------------------------------------------

// MonitorReceiver sends events for one monitor (database instance).
type MonitorReceiver struct {
	MonitorId string
}

func (s MonitorReceiver) Send(eventName string) {
	send(Event{Ts: time.Now(), Event: eventName, MonitorId: s.MonitorId})
}

func (s MonitorReceiver) Sendf(eventName string, msg string, args ...interface{}) {
	send(Event{
		Ts:        time.Now(),
		Event:     eventName,
		Message:   fmt.Sprintf(msg, args...),
		MonitorId: s.MonitorId,
	})
}

func (s MonitorReceiver) Errorf(eventName string, msg string, args ...interface{}) {
	send(Event{
		Ts:        time.Now(),
		Event:     eventName,
		Message:   fmt.Sprintf(msg, args...),
		MonitorId: s.MonitorId,
		Error:     true,
	})
}

// --------------------------------------------------------------------------

var stdout = log.New(os.Stdout, "", log.LstdFlags|log.Lmicroseconds)
var stderr = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)

// Log prints error events to STDERR. If All is true or debugging is enabled,
// it prints all other events to STDOUT.
type Log struct {
	All bool
}

func (s Log) Recv(e Event) {
	if e.Error {
		stderr.Printf("[%-25s] [%s] ERROR: %s", e.Event, e.MonitorId, e.Message)
		return
	}
	if s.All || dbpoll.Debugging {
		stdout.Printf("[%-25s] [%s] %s", e.Event, e.MonitorId, e.Message)
	}
}

// --------------------------------------------------------------------------

// Ring keeps the last N events in memory. The server API uses it to report
// recent errors.
type Ring struct {
	*sync.Mutex
	events []Event
	next   int
	full   bool
}

func NewRing(n int) *Ring {
	if n < 1 {
		n = 1
	}
	return &Ring{
		Mutex:  &sync.Mutex{},
		events: make([]Event, n),
	}
}

func (r *Ring) Recv(e Event) {
	r.Lock()
	r.events[r.next] = e
	r.next = (r.next + 1) % len(r.events)
	if r.next == 0 {
		r.full = true
	}
	r.Unlock()
}

// Events returns the events oldest to newest.
func (r *Ring) Events() []Event {
	r.Lock()
	defer r.Unlock()
	if !r.full {
		return append([]Event{}, r.events[:r.next]...)
	}
	out := make([]Event, 0, len(r.events))
	out = append(out, r.events[r.next:]...)
	return append(out, r.events[:r.next]...)
}
