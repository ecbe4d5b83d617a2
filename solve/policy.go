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
	"sync"
)

// Policy scores the outgoing transitions of a search
// node; the search uses the scores as priors biasing
// selection toward promising children. A nil policy
// degrades the search to plain UCB.
type Policy interface {
	// Predict returns one score per child of n, in child
	// order.
	Predict(n *Node) []float64
	// PredictAsync queues n for scoring; the scores are
	// delivered to n concurrently with the search.
	PredictAsync(n *Node)
	// Cancel drains in-flight requests. Responses hold
	// pointers into the node set, so the search must not
	// release its nodes until Cancel has returned.
	Cancel()
}

// AsyncPolicy runs a synchronous scoring function on a
// bounded pool of workers draining a request queue.
type AsyncPolicy struct {
	score func(*Node) []float64

	mu     sync.Mutex
	reqs   chan *Node
	wg     sync.WaitGroup
	closed bool
}

// NewAsyncPolicy starts workers goroutines evaluating
// score; the caller must Cancel it when the search is
// done.
func NewAsyncPolicy(workers int, score func(*Node) []float64) *AsyncPolicy {
	if workers < 1 {
		workers = 1
	}
	p := &AsyncPolicy{
		score: score,
		reqs:  make(chan *Node, 64),
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for n := range p.reqs {
				n.deliverBias(p.score(n))
			}
		}()
	}
	return p
}

// Predict evaluates n synchronously on the caller's
// goroutine.
func (p *AsyncPolicy) Predict(n *Node) []float64 {
	return p.score(n)
}

// PredictAsync queues n for evaluation; after Cancel it
// is a no-op.
func (p *AsyncPolicy) PredictAsync(n *Node) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.reqs <- n
}

// Cancel closes the queue and waits for every in-flight
// request to finish.
func (p *AsyncPolicy) Cancel() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.reqs)
	}
	p.mu.Unlock()
	p.wg.Wait()
}

var _ Policy = (*AsyncPolicy)(nil)
