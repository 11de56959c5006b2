// Copyright 2024 Block, Inc.

// Package meta provides the metric meta registry: the unit and counter or
// gauge classification of every known metric key.
package meta

import (
	"strings"
	"time"

	"github.com/dbpoll/dbpoll"
)

// Meta is the unit and classification of one metric key. A counter Meta owns
// the Counter that persists across poll cycles.
type Meta struct {
	Key     string
	Unit    string
	counter *Counter
}

func (m *Meta) IsCounter() bool {
	return m.counter != nil
}

// Registry maps metric keys to Meta. It is built once by NewRegistry and
// never changes after, so the unit and classification of a key never change.
type Registry struct {
	metas map[string]*Meta
}

// NewRegistry returns a registry of the value and counter metrics of every
// category plus the built-in metrics. Keys are "category/metric", lowercase.
// now is passed to NewCounter.
func NewRegistry(categories []dbpoll.Category, now func() time.Time) *Registry {
	r := &Registry{
		metas: map[string]*Meta{},
	}
	for _, c := range categories {
		for _, name := range c.Values() {
			r.add(c.Name+"/"+name, DEFAULT_UNIT, nil)
		}
		for _, name := range c.Counters() {
			r.add(c.Name+"/"+name, DEFAULT_COUNTER_UNIT, NewCounter(now))
		}
	}
	for key, unit := range builtin {
		r.add(key, unit, nil)
	}
	return r
}

func (r *Registry) add(key, unit string, c *Counter) {
	key = strings.ToLower(key)
	r.metas[key] = &Meta{Key: key, Unit: unit, counter: c}
}

// Classify returns the Meta for the key, case-insensitive, or false if the
// key is not registered.
func (r *Registry) Classify(key string) (*Meta, bool) {
	m, ok := r.metas[strings.ToLower(key)]
	return m, ok
}

// Transform returns the value to report for raw. Counters return their rate
// and false when there is no rate yet. Gauges return raw.
func (r *Registry) Transform(m *Meta, raw float64) (float64, bool) {
	if m.IsCounter() {
		return m.counter.Process(raw)
	}
	return raw, true
}

// Len returns the number of registered keys.
func (r *Registry) Len() int {
	return len(r.metas)
}
