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
	"log"
	"math/rand"
	"sync"

	"github.com/SnellerInc/slpack/heap"
	"github.com/SnellerInc/slpack/ir"
	"github.com/SnellerInc/slpack/pack"
)

// Options configures a Packer. The zero value selects
// the builtin template library, a conservative address
// oracle, and deterministic seed 0.
type Options struct {
	// CostModel prices operations; it must not be nil.
	CostModel pack.CostModel
	// Library is the SIMD template set; nil selects
	// pack.BuiltinLibrary().
	Library *pack.Library
	// Addr answers address relations; nil selects an
	// empty static table, which never finds consecutive
	// accesses and treats every pair as aliasing.
	Addr pack.AddrInfo
	// Seed seeds all randomized sampling, making runs
	// reproducible.
	Seed int64
	// InsertFactor scales the scalar-to-lane insertion
	// cost during search; 0 selects the default of 2.
	InsertFactor float64
	// Widths overrides the pack widths tried for memory
	// chains; nil keeps the enumerator default.
	Widths []int
	// TrialCap overrides the per-template bound on lane
	// assignments tried; enumeration is exhaustive when
	// the cross product fits under it.
	TrialCap int
	// Logger receives per-block debug output; nil
	// disables it.
	Logger *log.Logger
	// Trace, when set, records the decisions of every
	// solve: the baseline, each committed pack, the
	// instructions left scalar, and the solution cost.
	Trace *Recorder

	// UCTIters is the iteration budget of SolveUCT; 0
	// selects 4096.
	UCTIters int
	// UCTExplore and UCTBias weigh the exploration and
	// policy-prior terms; 0 selects the defaults.
	UCTExplore float64
	UCTBias    float64
	// UCTExpandAfter is the visit count before a node
	// grows children; 0 selects the default of 4.
	UCTExpandAfter int
	// Policy optionally biases UCT selection.
	Policy Policy
}

// Packer is the per-block engine: it owns the context,
// dependence analysis, candidate enumeration, and the
// search strategies over one block. A Packer is not safe
// for concurrent use; run one per block instead (see
// PackBlocks).
type Packer struct {
	opts  Options
	e     *env
	en    *pack.Enumerator
	cands *pack.CandidateSet
	heur  *Heuristic
	rng   *rand.Rand
}

// New builds the per-block analysis for blk and
// enumerates its candidate packs.
func New(blk *ir.Block, opts Options) *Packer {
	if opts.CostModel == nil {
		panic("solve: Options.CostModel is required")
	}
	if opts.Library == nil {
		opts.Library = pack.BuiltinLibrary()
	}
	if opts.Addr == nil {
		opts.Addr = pack.NewStaticAddrInfo()
	}
	if opts.InsertFactor == 0 {
		opts.InsertFactor = 2
	}
	if opts.UCTIters == 0 {
		opts.UCTIters = 4096
	}
	ctx := pack.NewContext(blk, opts.CostModel)
	deps := pack.NewAnalysis(ctx, opts.Addr)
	p := &Packer{
		opts: opts,
		e: &env{
			ctx:          ctx,
			deps:         deps,
			cm:           opts.CostModel,
			insertFactor: opts.InsertFactor,
		},
		en:  pack.NewEnumerator(ctx, deps, opts.Library, opts.Addr),
		rng: rand.New(rand.NewSource(opts.Seed)),
	}
	if opts.Widths != nil {
		p.en.Widths = opts.Widths
	}
	if opts.TrialCap != 0 {
		p.en.TrialCap = opts.TrialCap
	}
	p.cands = p.en.Enumerate(p.rng)
	p.heur = NewHeuristic(ctx, p.cands)
	p.logf("block %s: %d instrs, %d candidate packs",
		blk.Name, ctx.NumInstrs(), len(p.cands.Packs))
	return p
}

func (p *Packer) logf(f string, args ...interface{}) {
	if p.opts.Logger != nil {
		p.opts.Logger.Printf(f, args...)
	}
}

// Context returns the block's pack context.
func (p *Packer) Context() *pack.Context { return p.e.ctx }

// Candidates returns the enumerated candidate packs.
func (p *Packer) Candidates() *pack.CandidateSet { return p.cands }

// Heuristic returns the block's static evaluator.
func (p *Packer) Heuristic() *Heuristic { return p.heur }

// NewFrontier returns the initial search state: nothing
// decided, the block's live-outs demanded as scalars.
func (p *Packer) NewFrontier() *Frontier { return newFrontier(p.e) }

// Baseline returns the all-scalar cost of the block.
func (p *Packer) Baseline() float64 {
	_, c := p.NewFrontier().ScalarizeAll()
	return c
}

// BestSeeds returns the k candidate packs with the
// largest heuristic advantage over executing their
// members as scalars, best first. It is the seed half of
// the seed-then-extend policy: a caller that cannot
// afford full search commits the best seed and extends
// from the resulting demands.
func (p *Packer) BestSeeds(k int) []*pack.Pack {
	type ranked struct {
		p      *pack.Pack
		saving float64
	}
	var rs []ranked
	for _, cand := range p.cands.Packs {
		scalar := 0.0
		for _, m := range cand.Members() {
			scalar += p.heur.ScalarCost(m)
		}
		saving := scalar - p.heur.PackCost(cand)
		if saving > 0 {
			rs = append(rs, ranked{p: cand, saving: saving})
		}
	}
	best := heap.TopK(rs, k, func(a, b ranked) bool {
		return a.saving > b.saving
	})
	out := make([]*pack.Pack, len(best))
	for i, r := range best {
		out[i] = r.p
	}
	return out
}

// SolveDP runs the memoized cost-minimizing search and
// returns the committed pack set plus the solution. When
// no improving extension exists, the set is empty and
// the solution cost equals the all-scalar baseline.
func (p *Packer) SolveDP() (*pack.Set, Solution) {
	s := newDPSolver(p.e, p.cands)
	sol := s.solve(p.NewFrontier())
	p.logf("block %s: dp solved %d subproblems (%d memo hits), cost %g",
		p.e.ctx.Block().Name, s.visited, s.hits, sol.Cost)
	return p.commit(sol), sol
}

// SolveUCT runs the tree search for the configured
// iteration budget and returns the committed pack set
// plus the best completion found.
func (p *Packer) SolveUCT() (*pack.Set, Solution) {
	u := newUCT(p.e, p.en, p.cands, p.rng, p.opts.Policy)
	if p.opts.UCTExplore != 0 {
		u.Explore = p.opts.UCTExplore
	}
	if p.opts.UCTBias != 0 {
		u.Bias = p.opts.UCTBias
	}
	if p.opts.UCTExpandAfter != 0 {
		u.ExpandAfter = p.opts.UCTExpandAfter
	}
	sol := u.Run(p.opts.UCTIters)
	p.logf("block %s: uct explored %d nodes, cost %g",
		p.e.ctx.Block().Name, len(u.nodes), sol.Cost)
	return p.commit(sol), sol
}

// commit validates the solution packs into a Set and
// records the run's trace events.
func (p *Packer) commit(sol Solution) *pack.Set {
	blk := p.e.ctx.Block().Name
	p.opts.Trace.record(Event{Kind: "baseline", Block: blk, Cost: p.Baseline()})
	set := pack.NewSet(p.e.ctx)
	for _, cand := range sol.Packs {
		if !set.TryAdd(cand) {
			panic("solve: solution packs overlap: " + cand.String())
		}
		p.opts.Trace.record(Event{Kind: "commit", Block: blk, What: cand.String(), Cost: cand.Cost()})
	}
	if p.opts.Trace != nil {
		packed := p.e.ctx.NewVector()
		for _, cand := range sol.Packs {
			packed.Or(cand.Elements())
		}
		for id := 0; id < p.e.ctx.NumInstrs(); id++ {
			if packed.Test(id) {
				continue
			}
			i := p.e.ctx.Instr(id)
			p.opts.Trace.record(Event{Kind: "scalarize", Block: blk, What: i.String(), Cost: pack.ScalarCost(p.e.cm, i)})
		}
	}
	p.opts.Trace.record(Event{Kind: "solution", Block: blk, Cost: sol.Cost})
	saving := set.CostSaving()
	p.logf("block %s: %d packs committed, saving %g", blk, set.Len(), saving)
	return set
}

// PackBlocks packs every block concurrently, one
// independent Packer per block, and returns the pack
// sets in block order.
func PackBlocks(blks []*ir.Block, opts Options) []*pack.Set {
	sets := make([]*pack.Set, len(blks))
	var wg sync.WaitGroup
	for i := range blks {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			set, _ := New(blks[i], opts).SolveDP()
			sets[i] = set
		}(i)
	}
	wg.Wait()
	return sets
}
