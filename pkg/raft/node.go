/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package raft is a replicated log for the control plane's sync operations.
// One node per region; the elected leader serialises all state mutations and
// replicates them to followers. The implementation follows the standard
// election/replication rules with snapshot-based log compaction; the
// repository is the stable storage.
package raft

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shookYu/FalconMind/pkg/apis/core"
	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/metrics"
	"github.com/shookYu/FalconMind/pkg/repository"
	"github.com/shookYu/FalconMind/pkg/utils/clock"
)

type Options struct {
	NodeID string
	// Peers are the other node ids of the cluster, excluding NodeID.
	Peers []string

	ElectionTimeoutMin time.Duration
	ElectionTimeoutMax time.Duration
	HeartbeatInterval  time.Duration
	// SnapshotThreshold is the log length that triggers compaction.
	SnapshotThreshold int
	// TickInterval drives the internal timer loop.
	TickInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.ElectionTimeoutMin <= 0 {
		o.ElectionTimeoutMin = 1500 * time.Millisecond
	}
	if o.ElectionTimeoutMax <= o.ElectionTimeoutMin {
		o.ElectionTimeoutMax = 2 * o.ElectionTimeoutMin
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 500 * time.Millisecond
	}
	if o.SnapshotThreshold <= 0 {
		o.SnapshotThreshold = 1000
	}
	if o.TickInterval <= 0 {
		o.TickInterval = 50 * time.Millisecond
	}
	return o
}

type Node struct {
	mu sync.Mutex

	// Persistent state.
	currentTerm uint64
	votedFor    string
	log         []LogEntry // entries after the snapshot point
	snapMeta    snapshotMeta

	// Volatile state.
	role        Role
	leaderID    string
	commitIndex uint64
	lastApplied uint64
	nextIndex   map[string]uint64
	matchIndex  map[string]uint64

	electionDeadline  time.Time
	heartbeatDeadline time.Time

	waiters map[uint64]chan error

	opts      Options
	transport Transport
	applier   Applier
	snapper   Snapshotter
	store     repository.Store
	clk       clock.Clock
	rng       *rand.Rand
	logger    *zap.SugaredLogger
}

func NewNode(opts Options, transport Transport, applier Applier, snapper Snapshotter, store repository.Store, clk clock.Clock, logger *zap.SugaredLogger) (*Node, error) {
	if opts.NodeID == "" {
		return nil, errors.Validation("raft node id must not be empty")
	}
	opts = opts.withDefaults()
	n := &Node{
		role:       RoleFollower,
		nextIndex:  map[string]uint64{},
		matchIndex: map[string]uint64{},
		waiters:    map[uint64]chan error{},
		opts:       opts,
		transport:  transport,
		applier:    applier,
		snapper:    snapper,
		store:      store,
		clk:        clk,
		rng:        rand.New(rand.NewSource(clk.Now().UnixNano())),
		logger:     logger.Named("raft").With("node", opts.NodeID),
	}
	if err := n.loadPersistentState(context.Background()); err != nil {
		return nil, err
	}
	n.resetElectionDeadlineLocked()
	return n, nil
}

// Run drives the election and heartbeat timers until ctx is cancelled.
func (n *Node) Run(ctx context.Context) {
	ticker := time.NewTicker(n.opts.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.tick(ctx)
		}
	}
}

func (n *Node) tick(ctx context.Context) {
	n.mu.Lock()
	now := n.clk.Now()
	switch n.role {
	case RoleLeader:
		if now.Before(n.heartbeatDeadline) {
			n.mu.Unlock()
			return
		}
		n.heartbeatDeadline = now.Add(n.opts.HeartbeatInterval)
		n.mu.Unlock()
		n.broadcastAppend(ctx)
	default:
		if now.Before(n.electionDeadline) {
			n.mu.Unlock()
			return
		}
		n.mu.Unlock()
		n.startElection(ctx)
	}
}

// Status reports the node's current view for the operator API.
func (n *Node) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return Status{
		NodeID:      n.opts.NodeID,
		Role:        n.role,
		Term:        n.currentTerm,
		LeaderID:    n.leaderID,
		CommitIndex: n.commitIndex,
		LastApplied: n.lastApplied,
		LastIndex:   n.lastIndexLocked(),
		Peers:       len(n.opts.Peers),
	}
}

// IsLeader reports whether this node currently leads.
func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role == RoleLeader
}

// LeaderID returns the id of the known leader, empty during elections.
func (n *Node) LeaderID() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.leaderID
}

// Propose appends op to the replicated log and blocks until the entry commits
// or ctx expires. Returns an InvalidState error on non-leaders; callers
// forward to the leader.
func (n *Node) Propose(ctx context.Context, op core.SyncOperation) error {
	n.mu.Lock()
	if n.role != RoleLeader {
		leader := n.leaderID
		n.mu.Unlock()
		return errors.InvalidState("not the leader (leader is %q)", leader)
	}
	entry := LogEntry{Index: n.lastIndexLocked() + 1, Term: n.currentTerm, Op: op}
	n.log = append(n.log, entry)
	if err := n.persistLogLocked(ctx); err != nil {
		n.log = n.log[:len(n.log)-1]
		n.mu.Unlock()
		return err
	}
	waiter := make(chan error, 1)
	n.waiters[entry.Index] = waiter
	// Single-node clusters commit immediately.
	if len(n.opts.Peers) == 0 {
		n.advanceCommitLocked(ctx, entry.Index)
	}
	n.mu.Unlock()

	n.broadcastAppend(ctx)

	select {
	case err := <-waiter:
		return err
	case <-ctx.Done():
		n.mu.Lock()
		delete(n.waiters, entry.Index)
		n.mu.Unlock()
		return errors.Transient(ctx.Err(), "proposal %d not committed in time", entry.Index)
	}
}

func (n *Node) startElection(ctx context.Context) {
	n.mu.Lock()
	n.role = RoleCandidate
	n.currentTerm++
	n.votedFor = n.opts.NodeID
	n.leaderID = ""
	term := n.currentTerm
	if err := n.persistTermLocked(ctx); err != nil {
		n.logger.Errorw("persisting term for election", "error", err)
		n.mu.Unlock()
		return
	}
	n.resetElectionDeadlineLocked()
	req := RequestVoteRequest{
		Term:         term,
		CandidateID:  n.opts.NodeID,
		LastLogIndex: n.lastIndexLocked(),
		LastLogTerm:  n.lastTermLocked(),
	}
	peers := n.opts.Peers
	n.mu.Unlock()

	n.logger.Infow("starting election", "term", term)
	metrics.RaftTerm.Set(float64(term))

	if len(peers) == 0 {
		n.becomeLeader(ctx, term)
		return
	}

	var mu sync.Mutex
	votes := 1
	for _, peer := range peers {
		go func(peer string) {
			resp, err := n.transport.RequestVote(ctx, peer, req)
			if err != nil {
				n.logger.Debugw("vote request failed", "peer", peer, "error", err)
				return
			}
			n.mu.Lock()
			if resp.Term > n.currentTerm {
				n.stepDownLocked(ctx, resp.Term)
				n.mu.Unlock()
				return
			}
			n.mu.Unlock()
			if !resp.VoteGranted {
				return
			}
			mu.Lock()
			votes++
			won := votes >= n.quorum()
			mu.Unlock()
			if won {
				n.becomeLeader(ctx, term)
			}
		}(peer)
	}
}

func (n *Node) becomeLeader(ctx context.Context, term uint64) {
	n.mu.Lock()
	if n.role == RoleLeader || n.currentTerm != term {
		n.mu.Unlock()
		return
	}
	n.role = RoleLeader
	n.leaderID = n.opts.NodeID
	last := n.lastIndexLocked()
	for _, peer := range n.opts.Peers {
		n.nextIndex[peer] = last + 1
		n.matchIndex[peer] = 0
	}
	n.heartbeatDeadline = n.clk.Now() // heartbeat immediately
	n.mu.Unlock()
	n.logger.Infow("became leader", "term", term)
	n.broadcastAppend(ctx)
}

func (n *Node) stepDownLocked(ctx context.Context, term uint64) {
	if term > n.currentTerm {
		n.currentTerm = term
		n.votedFor = ""
		if err := n.persistTermLocked(ctx); err != nil {
			n.logger.Errorw("persisting term on step down", "error", err)
		}
		metrics.RaftTerm.Set(float64(term))
	}
	if n.role != RoleFollower {
		n.logger.Infow("stepping down", "term", term)
	}
	n.role = RoleFollower
	n.resetElectionDeadlineLocked()
}

func (n *Node) quorum() int {
	return (len(n.opts.Peers)+1)/2 + 1
}

func (n *Node) resetElectionDeadlineLocked() {
	spread := n.opts.ElectionTimeoutMax - n.opts.ElectionTimeoutMin
	timeout := n.opts.ElectionTimeoutMin + time.Duration(n.rng.Int63n(int64(spread)))
	n.electionDeadline = n.clk.Now().Add(timeout)
}

// broadcastAppend replicates outstanding entries (or a heartbeat) to every
// peer in parallel.
func (n *Node) broadcastAppend(ctx context.Context) {
	n.mu.Lock()
	if n.role != RoleLeader {
		n.mu.Unlock()
		return
	}
	peers := n.opts.Peers
	n.mu.Unlock()
	for _, peer := range peers {
		go n.replicateTo(ctx, peer)
	}
}

func (n *Node) replicateTo(ctx context.Context, peer string) {
	n.mu.Lock()
	if n.role != RoleLeader {
		n.mu.Unlock()
		return
	}
	next := n.nextIndex[peer]
	if next <= n.snapMeta.LastIncludedIndex {
		req := InstallSnapshotRequest{
			Term:              n.currentTerm,
			LeaderID:          n.opts.NodeID,
			LastIncludedIndex: n.snapMeta.LastIncludedIndex,
			LastIncludedTerm:  n.snapMeta.LastIncludedTerm,
			Data:              n.snapMeta.Data,
		}
		n.mu.Unlock()
		n.sendSnapshot(ctx, peer, req)
		return
	}
	prevIndex := next - 1
	prevTerm, ok := n.termAtLocked(prevIndex)
	if !ok {
		n.mu.Unlock()
		return
	}
	req := AppendEntriesRequest{
		Term:         n.currentTerm,
		LeaderID:     n.opts.NodeID,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  prevTerm,
		Entries:      n.entriesFromLocked(next),
		LeaderCommit: n.commitIndex,
	}
	n.mu.Unlock()

	resp, err := n.transport.AppendEntries(ctx, peer, req)
	if err != nil {
		n.logger.Debugw("append entries failed", "peer", peer, "error", err)
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if resp.Term > n.currentTerm {
		n.stepDownLocked(ctx, resp.Term)
		return
	}
	if n.role != RoleLeader || n.currentTerm != req.Term {
		return
	}
	if !resp.Success {
		// Back up past the follower's conflict and retry on the next round.
		if resp.ConflictIndex > 0 {
			n.nextIndex[peer] = resp.ConflictIndex
		} else if n.nextIndex[peer] > 1 {
			n.nextIndex[peer]--
		}
		return
	}
	if len(req.Entries) > 0 {
		last := req.Entries[len(req.Entries)-1].Index
		n.matchIndex[peer] = last
		n.nextIndex[peer] = last + 1
	}
	n.maybeAdvanceCommitLocked(ctx)
}

func (n *Node) sendSnapshot(ctx context.Context, peer string, req InstallSnapshotRequest) {
	resp, err := n.transport.InstallSnapshot(ctx, peer, req)
	if err != nil {
		n.logger.Debugw("install snapshot failed", "peer", peer, "error", err)
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if resp.Term > n.currentTerm {
		n.stepDownLocked(ctx, resp.Term)
		return
	}
	n.nextIndex[peer] = req.LastIncludedIndex + 1
	n.matchIndex[peer] = req.LastIncludedIndex
}

// maybeAdvanceCommitLocked commits the highest index replicated on a quorum.
// Only entries from the current term commit by counting.
func (n *Node) maybeAdvanceCommitLocked(ctx context.Context) {
	for idx := n.lastIndexLocked(); idx > n.commitIndex; idx-- {
		term, ok := n.termAtLocked(idx)
		if !ok || term != n.currentTerm {
			continue
		}
		count := 1
		for _, peer := range n.opts.Peers {
			if n.matchIndex[peer] >= idx {
				count++
			}
		}
		if count >= n.quorum() {
			n.advanceCommitLocked(ctx, idx)
			return
		}
	}
}

func (n *Node) advanceCommitLocked(ctx context.Context, idx uint64) {
	if idx <= n.commitIndex {
		return
	}
	n.commitIndex = idx
	metrics.RaftCommitIndex.Set(float64(idx))
	n.applyCommittedLocked(ctx)
}

// applyCommittedLocked feeds committed entries to the applier in order and
// releases proposal waiters.
func (n *Node) applyCommittedLocked(ctx context.Context) {
	for n.lastApplied < n.commitIndex {
		next := n.lastApplied + 1
		entry, ok := n.entryAtLocked(next)
		if !ok {
			// Covered by a snapshot; the state machine already has it.
			n.lastApplied = next
			continue
		}
		err := n.applier.Apply(ctx, entry.Op)
		if err != nil {
			n.logger.Errorw("applying committed entry", "index", next, "error", err)
		}
		n.lastApplied = next
		if waiter, ok := n.waiters[next]; ok {
			waiter <- err
			delete(n.waiters, next)
		}
	}
	n.maybeSnapshotLocked(ctx)
}

// HandleRequestVote is the RPC entry point for vote requests.
func (n *Node) HandleRequestVote(ctx context.Context, req RequestVoteRequest) RequestVoteResponse {
	n.mu.Lock()
	defer n.mu.Unlock()
	if req.Term > n.currentTerm {
		n.stepDownLocked(ctx, req.Term)
	}
	resp := RequestVoteResponse{Term: n.currentTerm}
	if req.Term < n.currentTerm {
		return resp
	}
	upToDate := req.LastLogTerm > n.lastTermLocked() ||
		(req.LastLogTerm == n.lastTermLocked() && req.LastLogIndex >= n.lastIndexLocked())
	if (n.votedFor == "" || n.votedFor == req.CandidateID) && upToDate {
		n.votedFor = req.CandidateID
		if err := n.persistTermLocked(ctx); err != nil {
			n.logger.Errorw("persisting vote", "error", err)
			return resp
		}
		n.resetElectionDeadlineLocked()
		resp.VoteGranted = true
	}
	return resp
}

// HandleAppendEntries is the RPC entry point for replication and heartbeats.
func (n *Node) HandleAppendEntries(ctx context.Context, req AppendEntriesRequest) AppendEntriesResponse {
	n.mu.Lock()
	defer n.mu.Unlock()
	resp := AppendEntriesResponse{Term: n.currentTerm}
	if req.Term < n.currentTerm {
		return resp
	}
	if req.Term > n.currentTerm || n.role != RoleFollower {
		n.stepDownLocked(ctx, req.Term)
	}
	n.leaderID = req.LeaderID
	n.resetElectionDeadlineLocked()
	resp.Term = n.currentTerm

	if req.PrevLogIndex > 0 {
		term, ok := n.termAtLocked(req.PrevLogIndex)
		if !ok {
			resp.ConflictIndex = n.lastIndexLocked() + 1
			return resp
		}
		if term != req.PrevLogTerm {
			// Back up to the start of the conflicting term.
			conflict := req.PrevLogIndex
			for conflict > n.snapMeta.LastIncludedIndex+1 {
				t, ok := n.termAtLocked(conflict - 1)
				if !ok || t != term {
					break
				}
				conflict--
			}
			resp.ConflictIndex = conflict
			return resp
		}
	}

	changed := false
	for _, entry := range req.Entries {
		existing, ok := n.entryAtLocked(entry.Index)
		if ok && existing.Term == entry.Term {
			continue
		}
		if ok {
			n.truncateFromLocked(entry.Index)
		}
		n.log = append(n.log, entry)
		changed = true
	}
	if changed {
		if err := n.persistLogLocked(ctx); err != nil {
			n.logger.Errorw("persisting log", "error", err)
			return resp
		}
	}
	if req.LeaderCommit > n.commitIndex {
		n.advanceCommitLocked(ctx, min(req.LeaderCommit, n.lastIndexLocked()))
	}
	resp.Success = true
	return resp
}

// HandleInstallSnapshot is the RPC entry point for snapshot installation.
func (n *Node) HandleInstallSnapshot(ctx context.Context, req InstallSnapshotRequest) InstallSnapshotResponse {
	n.mu.Lock()
	defer n.mu.Unlock()
	resp := InstallSnapshotResponse{Term: n.currentTerm}
	if req.Term < n.currentTerm {
		return resp
	}
	if req.Term > n.currentTerm || n.role != RoleFollower {
		n.stepDownLocked(ctx, req.Term)
	}
	n.leaderID = req.LeaderID
	n.resetElectionDeadlineLocked()
	if req.LastIncludedIndex <= n.snapMeta.LastIncludedIndex {
		return resp
	}

	if err := n.snapper.Restore(ctx, req.Data); err != nil {
		n.logger.Errorw("restoring snapshot", "error", err)
		return resp
	}
	n.snapMeta = snapshotMeta{
		LastIncludedIndex: req.LastIncludedIndex,
		LastIncludedTerm:  req.LastIncludedTerm,
		Data:              req.Data,
	}
	// Keep any log suffix past the snapshot, drop the rest.
	var suffix []LogEntry
	for _, e := range n.log {
		if e.Index > req.LastIncludedIndex {
			suffix = append(suffix, e)
		}
	}
	n.log = suffix
	if n.commitIndex < req.LastIncludedIndex {
		n.commitIndex = req.LastIncludedIndex
	}
	if n.lastApplied < req.LastIncludedIndex {
		n.lastApplied = req.LastIncludedIndex
	}
	if err := n.persistSnapshotLocked(ctx); err != nil {
		n.logger.Errorw("persisting snapshot", "error", err)
	}
	if err := n.persistLogLocked(ctx); err != nil {
		n.logger.Errorw("persisting log after snapshot", "error", err)
	}
	n.logger.Infow("installed snapshot", "lastIncluded", req.LastIncludedIndex)
	return resp
}
