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
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/SnellerInc/slpack/bits"
	"github.com/SnellerInc/slpack/ir"
	"github.com/SnellerInc/slpack/pack"
)

// partialPack is a pack under construction inside the
// tree search: lanes are bound one at a time so a wide
// pack contributes depth instead of branching factor.
// Exactly one of t and chain flavors is in use.
type partialPack struct {
	width int

	t       *pack.Template
	matches []*pack.Match

	chain   []*ir.Instr
	isStore bool

	elements *bits.Vector
	depended *bits.Vector
}

func (pp *partialPack) bound() int {
	if pp.t != nil {
		return len(pp.matches)
	}
	return len(pp.chain)
}

func (pp *partialPack) full() bool { return pp.bound() == pp.width }

// key returns a dedup identity for the bound lanes.
func (pp *partialPack) key(ctx *pack.Context) string {
	var b []byte
	if pp.t != nil {
		b = fmt.Appendf(b, "t:%s/%d:", pp.t.Name, pp.width)
		for _, m := range pp.matches {
			b = fmt.Appendf(b, "%d,", ctx.ValueID(m.Output))
		}
		return string(b)
	}
	flavor := "ld"
	if pp.isStore {
		flavor = "st"
	}
	b = fmt.Appendf(b, "m:%s/%d:", flavor, pp.width)
	for _, a := range pp.chain {
		b = fmt.Appendf(b, "%d,", ctx.ValueID(a))
	}
	return string(b)
}

// extend returns pp with one more lane bound, or nil if
// next cannot join.
func (pp *partialPack) extend(e *env, next *ir.Instr, m *pack.Match) *partialPack {
	if !e.deps.CanAdd(next, pp.elements, pp.depended) {
		return nil
	}
	ext := &partialPack{
		width:    pp.width,
		t:        pp.t,
		matches:  pp.matches,
		chain:    pp.chain,
		isStore:  pp.isStore,
		elements: pp.elements.Clone(),
		depended: pp.depended.Clone(),
	}
	ext.elements.Set(e.ctx.ValueID(next))
	ext.depended.Or(e.deps.Depended(next))
	if pp.t != nil {
		ext.matches = append(pp.matches[:len(pp.matches):len(pp.matches)], m)
	} else {
		ext.chain = append(pp.chain[:len(pp.chain):len(pp.chain)], next)
	}
	return ext
}

func (pp *partialPack) materialize(ctx *pack.Context) *pack.Pack {
	if pp.t != nil {
		return ctx.NewGeneralPack(pp.t, pp.matches, pp.elements, pp.depended)
	}
	if pp.isStore {
		return ctx.NewStorePack(pp.chain, pp.elements, pp.depended)
	}
	return ctx.NewLoadPack(pp.chain, pp.elements, pp.depended)
}

// Node is one tree-search state: a frontier, plus the
// pack currently being filled lane by lane, if any.
type Node struct {
	f  *Frontier
	pp *partialPack

	mu     sync.Mutex
	bias   []float64 // per-edge priors, delivered async
	visits int
	edges  []uctEdge // nil until expanded
}

type uctEdge struct {
	cost   float64 // incremental frontier cost of taking this edge
	commit *pack.Pack
	dst    int // arena index

	visits int
	total  float64 // summed completion costs observed through this edge
}

// Frontier returns the search state the node stands for;
// policy implementations read it to score transitions.
func (n *Node) Frontier() *Frontier { return n.f }

// NumEdges returns the number of children, zero before
// expansion.
func (n *Node) NumEdges() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.edges)
}

func (n *Node) deliverBias(bias []float64) {
	n.mu.Lock()
	n.bias = bias
	n.mu.Unlock()
}

// UCT is one tree-search instance over a single block.
// It is driven by one goroutine; the policy oracle is
// the only concurrent toucher, and only through
// Node.deliverBias.
type UCT struct {
	e      *env
	en     *pack.Enumerator
	cands  *pack.CandidateSet
	rng    *rand.Rand
	policy Policy

	// Explore weighs the UCB exploration term, Bias the
	// policy prior; ExpandAfter is the visit count a node
	// must accumulate before it grows children.
	Explore     float64
	Bias        float64
	ExpandAfter int

	nodes []*Node
	dedup map[uint64][]int
	root  int
}

// NewUCT builds a search rooted at the initial frontier
// of e's block. policy may be nil.
func newUCT(e *env, en *pack.Enumerator, cands *pack.CandidateSet, rng *rand.Rand, policy Policy) *UCT {
	u := &UCT{
		e:           e,
		en:          en,
		cands:       cands,
		rng:         rng,
		policy:      policy,
		Explore:     math.Sqrt2,
		Bias:        1,
		ExpandAfter: 4,
		dedup:       make(map[uint64][]int),
	}
	u.root = u.node(newFrontier(e), nil)
	return u
}

func ppHash(ctx *pack.Context, pp *partialPack) uint64 {
	if pp == nil {
		return 0
	}
	h := uint64(14695981039346656037)
	for _, b := range []byte(pp.key(ctx)) {
		h = (h ^ uint64(b)) * 1099511628211
	}
	return h
}

// node returns the arena index for (f, pp), reusing an
// existing node when an equal state was already reached
// along another path.
func (u *UCT) node(f *Frontier, pp *partialPack) int {
	h := f.Hash() ^ ppHash(u.e.ctx, pp)
	for _, at := range u.dedup[h] {
		n := u.nodes[at]
		if !n.f.Equal(f) {
			continue
		}
		if (n.pp == nil) != (pp == nil) {
			continue
		}
		if pp != nil && n.pp.key(u.e.ctx) != pp.key(u.e.ctx) {
			continue
		}
		return at
	}
	at := len(u.nodes)
	u.nodes = append(u.nodes, &Node{f: f, pp: pp})
	u.dedup[h] = append(u.dedup[h], at)
	return at
}

// Run performs iters rounds of select/expand/rollout/
// backpropagate and returns the best completion found.
func (u *UCT) Run(iters int) Solution {
	for i := 0; i < iters; i++ {
		u.iterate()
	}
	if u.policy != nil {
		u.policy.Cancel()
	}
	return u.extract()
}

func (u *UCT) iterate() {
	type step struct {
		node int
		edge int
	}
	var path []step
	at := u.root
	for {
		n := u.nodes[at]
		n.mu.Lock()
		n.visits++
		if n.edges == nil {
			if n.visits < u.ExpandAfter {
				n.mu.Unlock()
				break
			}
			n.mu.Unlock()
			u.expand(at)
			n.mu.Lock()
			if len(n.edges) == 0 {
				n.mu.Unlock()
				break
			}
		}
		if len(n.edges) == 0 {
			n.mu.Unlock()
			break
		}
		ei := u.selectEdge(n)
		n.mu.Unlock()
		path = append(path, step{node: at, edge: ei})
		at = n.edges[ei].dst
	}

	leaf := u.nodes[at]
	tail := u.rollout(leaf.f, leaf.pp)

	// backpropagate summed downstream costs
	for i := len(path) - 1; i >= 0; i-- {
		n := u.nodes[path[i].node]
		n.mu.Lock()
		e := &n.edges[path[i].edge]
		tail += e.cost
		e.visits++
		e.total += tail
		n.mu.Unlock()
	}
}

// selectEdge picks the child maximizing the UCB score;
// called with n.mu held.
func (u *UCT) selectEdge(n *Node) int {
	best, bestScore := 0, math.Inf(-1)
	for i := range n.edges {
		e := &n.edges[i]
		if e.visits == 0 {
			return i
		}
		score := -(e.total / float64(e.visits))
		score += u.Explore * math.Sqrt(math.Log(float64(n.visits))/float64(e.visits))
		if n.bias != nil && i < len(n.bias) {
			score += u.Bias * n.bias[i] / float64(1+e.visits)
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	return best
}

// expand grows the children of node at: lane extensions
// when a partial pack is in progress, otherwise every
// legal scalarize plus every way to start a pack.
func (u *UCT) expand(at int) {
	n := u.nodes[at]
	var edges []uctEdge
	if n.pp != nil {
		for _, ext := range u.extensions(n.f, n.pp) {
			if ext.full() {
				p := ext.materialize(u.e.ctx)
				next, c := n.f.Commit(p)
				edges = append(edges, uctEdge{cost: c, commit: p, dst: u.node(next, nil)})
			} else {
				edges = append(edges, uctEdge{dst: u.node(n.f, ext)})
			}
		}
	} else {
		n.f.usable.Each(func(id int) {
			next, c := n.f.Scalarize(u.e.ctx.Instr(id))
			edges = append(edges, uctEdge{cost: c, dst: u.node(next, nil)})
		})
		for _, pp := range u.starts(n.f) {
			if pp.full() {
				p := pp.materialize(u.e.ctx)
				next, c := n.f.Commit(p)
				edges = append(edges, uctEdge{cost: c, commit: p, dst: u.node(next, nil)})
			} else {
				edges = append(edges, uctEdge{dst: u.node(n.f, pp)})
			}
		}
	}
	if edges == nil {
		edges = []uctEdge{}
	}
	n.mu.Lock()
	n.edges = edges
	n.mu.Unlock()
	if u.policy != nil && len(edges) > 0 {
		u.policy.PredictAsync(n)
	}
}

// starts enumerates the width-1 partial packs legal under
// f: one per (template, lane-0 match) and one per
// (usable memory access, width).
func (u *UCT) starts(f *Frontier) []*partialPack {
	var out []*partialPack
	for _, t := range u.en.Library().Templates() {
		ms := u.en.Matches().Matches(t.Lanes[0].Op)
		for i := range ms {
			m := &ms[i]
			if !f.Usable(m.Output) {
				continue
			}
			pp := &partialPack{
				width:    t.LaneCount(),
				t:        t,
				elements: u.e.ctx.NewVector(),
				depended: u.e.ctx.NewVector(),
			}
			if ext := pp.extend(u.e, m.Output, m); ext != nil {
				out = append(out, ext)
			}
		}
	}
	for _, i := range u.e.ctx.Block().Instrs {
		if i.Op != ir.OpLoad && i.Op != ir.OpStore {
			continue
		}
		if !f.Usable(i) {
			continue
		}
		for _, w := range u.en.Widths {
			pp := &partialPack{
				width:    w,
				isStore:  i.Op == ir.OpStore,
				elements: u.e.ctx.NewVector(),
				depended: u.e.ctx.NewVector(),
			}
			if ext := pp.extend(u.e, i, nil); ext != nil {
				out = append(out, ext)
			}
		}
	}
	return out
}

// extensions enumerates the legal next-lane bindings of
// pp under f.
func (u *UCT) extensions(f *Frontier, pp *partialPack) []*partialPack {
	var out []*partialPack
	if pp.t != nil {
		lane := pp.t.Lanes[len(pp.matches)]
		ms := u.en.Matches().Matches(lane.Op)
		for i := range ms {
			m := &ms[i]
			if !f.Usable(m.Output) {
				continue
			}
			if ext := pp.extend(u.e, m.Output, m); ext != nil {
				out = append(out, ext)
			}
		}
		return out
	}
	dag := u.en.LoadDAG
	if pp.isStore {
		dag = u.en.StoreDAG
	}
	for _, next := range dag[pp.chain[len(pp.chain)-1]] {
		if !f.Usable(next) {
			continue
		}
		if ext := pp.extend(u.e, next, nil); ext != nil {
			out = append(out, ext)
		}
	}
	return out
}

// rollout plays a uniform-random legal completion from
// (f, pp) and returns its cost. In-progress packs are
// completed first when possible; committed extensions
// prefer packs that supply a still-demanded operand.
func (u *UCT) rollout(f *Frontier, pp *partialPack) float64 {
	total := 0.0
	for pp != nil {
		if pp.full() {
			p := pp.materialize(u.e.ctx)
			next, c := f.Commit(p)
			f, total = next, total+c
			pp = nil
			break
		}
		exts := u.extensions(f, pp)
		if len(exts) == 0 {
			pp = nil // abandon, lanes stay undecided
			break
		}
		pp = exts[u.rng.Intn(len(exts))]
	}
	for !f.Free().Empty() {
		id := u.randomUsable(f)
		feasible := feasible(f, u.cands.ForValue(id))
		if len(feasible) == 0 {
			next, c := f.Scalarize(u.e.ctx.Instr(id))
			f, total = next, total+c
			continue
		}
		wanted := demandCompatible(f, feasible)
		if len(wanted) > 0 {
			feasible = wanted
		}
		// one extra slot for the scalarize choice
		pick := u.rng.Intn(len(feasible) + 1)
		if pick == len(feasible) {
			next, c := f.Scalarize(u.e.ctx.Instr(id))
			f, total = next, total+c
			continue
		}
		next, c := f.Commit(feasible[pick])
		f, total = next, total+c
	}
	return total
}

func (u *UCT) randomUsable(f *Frontier) int {
	ids := f.usable.Members()
	if len(ids) == 0 {
		panic("solve: free instructions but none usable")
	}
	return ids[u.rng.Intn(len(ids))]
}

func feasible(f *Frontier, cands []*pack.Pack) []*pack.Pack {
	var out []*pack.Pack
	for _, p := range cands {
		if f.AllUsable(p) {
			out = append(out, p)
		}
	}
	return out
}

func demandCompatible(f *Frontier, cands []*pack.Pack) []*pack.Pack {
	var out []*pack.Pack
	for _, p := range cands {
		if !p.ProducesValues() {
			continue
		}
		for _, op := range f.UnresolvedPacks() {
			match := false
			for _, v := range op.Values() {
				if v != nil && p.Elements().Test(f.env.ctx.ValueID(v)) {
					match = true
					break
				}
			}
			if match {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// extract walks the most-visited line of play and
// completes the remainder with scalarization.
func (u *UCT) extract() Solution {
	var sol Solution
	at := u.root
	for {
		n := u.nodes[at]
		n.mu.Lock()
		best, bestVisits := -1, 0
		for i := range n.edges {
			if n.edges[i].visits > bestVisits {
				best, bestVisits = i, n.edges[i].visits
			}
		}
		n.mu.Unlock()
		if best < 0 {
			break
		}
		e := &n.edges[best]
		sol.Cost += e.cost
		if e.commit != nil {
			sol.Packs = append(sol.Packs, e.commit)
		}
		at = e.dst
	}
	tail := u.nodes[at].f
	if !tail.Free().Empty() {
		_, c := tail.ScalarizeAll()
		sol.Cost += c
	}
	return sol
}
