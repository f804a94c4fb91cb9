// Package diagnostic renders two optional build artifacts: a Chrome
// trace-event timeline of task running/suspended intervals (--timeline) and
// a Graphviz dependency graph (--graph). The timeline format and its
// encoder are adapted from the teacher's internal/trace package, repurposed
// from CPU/memory counters to task lifecycle intervals; the graph is built
// on gonum's graph/simple (the same library the teacher's former batch
// scheduler used for its own dependency graph) and its DOT text is written
// directly with fmt.
package diagnostic

import (
	"encoding/json"
	"io"

	"github.com/distr1/erect/internal/core"
)

// traceEvent is one Chrome trace-event "complete" (ph:"X") record. See
// https://docs.google.com/document/d/1CvAClvFfyA5R-PhYUmn5OOQtYMH4h6I0nSsKchNAySU
// for the format, which the teacher's internal/trace package already
// targets for a different signal (CPU/memory counters instead of task
// state).
type traceEvent struct {
	Name           string `json:"name"`
	Categories     string `json:"cat"`
	Type           string `json:"ph"`
	ClockTimestamp int64  `json:"ts"`
	Duration       int64  `json:"dur"`
	Pid            int    `json:"pid"`
	Tid            int    `json:"tid"`
}

// WriteTimeline writes a Chrome trace-event JSON array to w: one interval
// per task per contiguous running or suspended span, derived from each
// task's core.Task.Events() log. nowNanos is the time to treat as "still
// running" for any task whose last recorded event has no successor yet
// (typically because the build was aborted mid-flight).
func WriteTimeline(w io.Writer, tasks []*core.Task, nowNanos int64) error {
	events := []traceEvent{}
	for tid, t := range tasks {
		log := t.Events()
		for i, ev := range log {
			if ev.State == core.StateDone {
				continue
			}
			var endNanos int64
			if i+1 < len(log) {
				endNanos = log[i+1].At.UnixNano()
			} else {
				endNanos = nowNanos
			}
			events = append(events, traceEvent{
				Name:           t.ID.Display(),
				Categories:     string(ev.State),
				Type:           "X",
				ClockTimestamp: ev.At.UnixNano() / 1000,
				Duration:       (endNanos - ev.At.UnixNano()) / 1000,
				Pid:            1,
				Tid:            tid,
			})
		}
	}
	return json.NewEncoder(w).Encode(events)
}
