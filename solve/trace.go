// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package solve

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Event is one recorded step of a search run.
type Event struct {
	// Run identifies the search run that produced the
	// event; every event of one Packer run carries the
	// same id.
	Run string `json:"run"`
	// Kind is "scalarize", "commit", "solution", or
	// "baseline".
	Kind  string  `json:"kind"`
	Block string  `json:"block,omitempty"`
	What  string  `json:"what,omitempty"`
	Cost  float64 `json:"cost"`
}

// Recorder writes a compressed event stream describing
// the decisions of a search run, one JSON object per
// line inside a zstd frame.
type Recorder struct {
	run string

	// concurrent packers share one recorder
	mu  sync.Mutex
	zw  *zstd.Encoder
	enc *json.Encoder
}

// NewRecorder starts a trace stream on w; the caller
// must Close it to flush the compressed frame.
func NewRecorder(w io.Writer) (*Recorder, error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return nil, fmt.Errorf("solve: starting trace stream: %w", err)
	}
	return &Recorder{
		run: uuid.New().String(),
		zw:  zw,
		enc: json.NewEncoder(zw),
	}, nil
}

// Run returns the unique id of this recording.
func (r *Recorder) Run() string { return r.run }

func (r *Recorder) record(ev Event) {
	if r == nil {
		return
	}
	ev.Run = r.run
	r.mu.Lock()
	// encoding a struct of plain fields cannot fail
	r.enc.Encode(&ev)
	r.mu.Unlock()
}

// Close flushes and terminates the compressed stream.
func (r *Recorder) Close() error {
	return r.zw.Close()
}

// ReadTrace decodes every event of a recorded stream.
func ReadTrace(rd io.Reader) ([]Event, error) {
	zr, err := zstd.NewReader(rd)
	if err != nil {
		return nil, fmt.Errorf("solve: opening trace stream: %w", err)
	}
	defer zr.Close()
	var events []Event
	dec := json.NewDecoder(bufio.NewReader(zr))
	for {
		var ev Event
		if err := dec.Decode(&ev); err == io.EOF {
			return events, nil
		} else if err != nil {
			return nil, fmt.Errorf("solve: decoding trace event: %w", err)
		}
		events = append(events, ev)
	}
}
