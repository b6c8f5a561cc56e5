package engine

import (
	"sort"

	"github.com/papapumpkin/kiln/internal/opgraph"
)

// scheduler tracks readiness for one pass. It is only touched by the
// dispatch loop.
type scheduler struct {
	graph   *opgraph.Graph
	waiting map[opgraph.OperationID]uint32
	state   map[opgraph.OperationID]Status
	started map[opgraph.OperationID]bool
	ready   []opgraph.OperationID
}

func newScheduler(g *opgraph.Graph) *scheduler {
	s := &scheduler{
		graph:   g,
		waiting: make(map[opgraph.OperationID]uint32, g.Len()),
		state:   make(map[opgraph.OperationID]Status, g.Len()),
		started: make(map[opgraph.OperationID]bool, g.Len()),
	}
	for _, id := range g.IDs() {
		op := g.Operation(id)
		s.waiting[id] = op.DependencyCount
		s.state[id] = StatusPending
		if op.DependencyCount == 0 {
			s.ready = append(s.ready, id)
		}
	}
	return s
}

func (s *scheduler) hasReady() bool {
	return len(s.ready) > 0
}

// pop returns the lowest ready id and marks it started.
func (s *scheduler) pop() opgraph.OperationID {
	id := s.ready[0]
	s.ready = s.ready[1:]
	s.started[id] = true
	return id
}

// complete records id's terminal status. On success or skip, children whose
// last dependency this was become ready. On failure every descendant not yet
// started is marked blocked and returned.
func (s *scheduler) complete(id opgraph.OperationID, status Status) []opgraph.OperationID {
	s.state[id] = status

	if status == StatusFailed {
		var blocked []opgraph.OperationID
		for _, d := range s.graph.Descendants(id) {
			if s.state[d] == StatusPending && !s.started[d] {
				s.state[d] = StatusBlocked
				blocked = append(blocked, d)
			}
		}
		return blocked
	}

	seen := make(map[opgraph.OperationID]bool)
	for _, child := range s.graph.Operation(id).Children {
		if seen[child] {
			continue
		}
		seen[child] = true
		s.waiting[child]--
		if s.waiting[child] == 0 && s.state[child] == StatusPending {
			s.ready = append(s.ready, child)
		}
	}
	sort.Slice(s.ready, func(i, j int) bool { return s.ready[i] < s.ready[j] })
	return nil
}

// unfinished returns the ids that never reached a terminal state.
func (s *scheduler) unfinished() []opgraph.OperationID {
	var ids []opgraph.OperationID
	for id, st := range s.state {
		if st == StatusPending {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
