// Package fanouttest provides a recording connection for tests.
package fanouttest

import (
	"encoding/json"
	"sync"
)

// Recorder is a fanout.Deliverer that keeps every payload.
type Recorder struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *Recorder) Deliver(payload []byte) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, append([]byte(nil), payload...))
	return true
}

// Frames returns the payloads decoded as JSON objects.
func (r *Recorder) Frames() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]map[string]any, 0, len(r.frames))
	for _, f := range r.frames {
		var m map[string]any
		if err := json.Unmarshal(f, &m); err == nil {
			out = append(out, m)
		}
	}
	return out
}

// Types returns the "type" field of every payload in order.
func (r *Recorder) Types() []string {
	var out []string
	for _, f := range r.Frames() {
		t, _ := f["type"].(string)
		out = append(out, t)
	}
	return out
}

// Last returns the most recent payload of the given type, or nil.
func (r *Recorder) Last(typ string) map[string]any {
	frames := r.Frames()
	for i := len(frames) - 1; i >= 0; i-- {
		if frames[i]["type"] == typ {
			return frames[i]
		}
	}
	return nil
}

func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.frames = nil
	r.mu.Unlock()
}
