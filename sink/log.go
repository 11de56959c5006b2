// Copyright 2022 Block, Inc.

package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dbpoll/dbpoll"
)

// logSink prints metrics to STDOUT. It is the default sink when an instance
// has no sinks.
type logSink struct {
	monitorId string
	w         io.Writer
}

func NewLogSink(monitorId string, opts map[string]string) (logSink, error) {
	for k := range opts {
		return logSink{}, fmt.Errorf("invalid option: %s", k)
	}
	return logSink{monitorId: monitorId, w: os.Stdout}, nil
}

func (s logSink) Send(ctx context.Context, m *dbpoll.Metrics) error {
	fmt.Fprintf(s.w, "# monitor:  %s\n", m.MonitorId)
	fmt.Fprintf(s.w, "# ts:       %s\n", m.Begin.Format(time.RFC3339Nano))
	fmt.Fprintf(s.w, "# duration: %d ms\n", m.End.Sub(m.Begin).Milliseconds())
	for _, v := range m.Values {
		if v.Unit == "" {
			fmt.Fprintf(s.w, "%s = %g\n", v.Key, v.Value)
		} else {
			fmt.Fprintf(s.w, "%s = %g %s\n", v.Key, v.Value, v.Unit)
		}
	}
	fmt.Fprintln(s.w)
	return nil
}

func (s logSink) Name() string {
	return "log"
}
