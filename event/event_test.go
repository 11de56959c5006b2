// Copyright 2024 Block, Inc.

package event_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/dbpoll/dbpoll/event"
	"github.com/dbpoll/dbpoll/test/mock"
)

func TestSubscribe(t *testing.T) {
	var got []event.Event
	event.Subscribe(mock.EventReceiver{RecvFunc: func(e event.Event) { got = append(got, e) }})
	defer event.RemoveSubscribers()

	event.Sendf(event.BOOT_START, "dbpoll %s", "1.0.0")
	event.MonitorReceiver{MonitorId: "db1"}.Errorf(event.DB_CONNECT_ERROR, "host=%s", "localhost")

	if len(got) != 2 {
		t.Fatalf("got %d events, expected 2", len(got))
	}
	assert.Equal(t, event.BOOT_START, got[0].Event)
	assert.Equal(t, "dbpoll 1.0.0", got[0].Message)
	assert.False(t, got[0].Error)
	assert.Equal(t, "", got[0].MonitorId)

	assert.Equal(t, event.DB_CONNECT_ERROR, got[1].Event)
	assert.Equal(t, "db1", got[1].MonitorId)
	assert.True(t, got[1].Error)
}

func TestRing(t *testing.T) {
	r := event.NewRing(3)
	assert.Empty(t, r.Events())

	for i := 1; i <= 2; i++ {
		r.Recv(event.Event{Message: fmt.Sprintf("%d", i)})
	}
	assert.Equal(t, []string{"1", "2"}, messages(r.Events()))

	for i := 3; i <= 5; i++ {
		r.Recv(event.Event{Message: fmt.Sprintf("%d", i)})
	}
	assert.Equal(t, []string{"3", "4", "5"}, messages(r.Events()))
}

func messages(events []event.Event) []string {
	m := make([]string, len(events))
	for i := range events {
		m[i] = events[i].Message
	}
	return m
}
