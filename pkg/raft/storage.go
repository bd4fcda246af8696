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

package raft

import (
	"context"
	"encoding/json"

	"github.com/shookYu/FalconMind/pkg/errors"
	"github.com/shookYu/FalconMind/pkg/repository"
)

// snapshotMeta is the persisted compaction point plus the state machine bytes
// needed to bring a far-behind follower up to it.
type snapshotMeta struct {
	LastIncludedIndex uint64 `json:"lastIncludedIndex"`
	LastIncludedTerm  uint64 `json:"lastIncludedTerm"`
	Data              []byte `json:"data,omitempty"`
}

// termRecord is the persisted term/vote pair. Both persist atomically; a vote
// is only meaningful within its term.
type termRecord struct {
	Term     uint64 `json:"term"`
	VotedFor string `json:"votedFor,omitempty"`
}

func (n *Node) loadPersistentState(ctx context.Context) error {
	if raw, err := n.store.Get(ctx, repository.RaftKey(n.opts.NodeID, "term")); err == nil && raw != nil {
		var rec termRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return errors.Fatal(err, "decoding raft term record")
		}
		n.currentTerm = rec.Term
		n.votedFor = rec.VotedFor
	}
	if raw, err := n.store.Get(ctx, repository.RaftKey(n.opts.NodeID, "snapshot")); err == nil && raw != nil {
		if err := json.Unmarshal(raw, &n.snapMeta); err != nil {
			return errors.Fatal(err, "decoding raft snapshot record")
		}
		n.commitIndex = n.snapMeta.LastIncludedIndex
		n.lastApplied = n.snapMeta.LastIncludedIndex
		if n.snapMeta.Data != nil {
			if err := n.snapper.Restore(ctx, n.snapMeta.Data); err != nil {
				return errors.Fatal(err, "restoring state machine from snapshot")
			}
		}
	}
	if raw, err := n.store.Get(ctx, repository.RaftKey(n.opts.NodeID, "log")); err == nil && raw != nil {
		if err := json.Unmarshal(raw, &n.log); err != nil {
			return errors.Fatal(err, "decoding raft log")
		}
	}
	return nil
}

func (n *Node) persistTermLocked(ctx context.Context) error {
	raw, err := json.Marshal(termRecord{Term: n.currentTerm, VotedFor: n.votedFor})
	if err != nil {
		return errors.Fatal(err, "encoding raft term record")
	}
	return n.store.Put(ctx, repository.RaftKey(n.opts.NodeID, "term"), raw)
}

func (n *Node) persistLogLocked(ctx context.Context) error {
	raw, err := json.Marshal(n.log)
	if err != nil {
		return errors.Fatal(err, "encoding raft log")
	}
	return n.store.Put(ctx, repository.RaftKey(n.opts.NodeID, "log"), raw)
}

func (n *Node) persistSnapshotLocked(ctx context.Context) error {
	raw, err := json.Marshal(n.snapMeta)
	if err != nil {
		return errors.Fatal(err, "encoding raft snapshot record")
	}
	return n.store.Put(ctx, repository.RaftKey(n.opts.NodeID, "snapshot"), raw)
}

// lastIndexLocked is the index of the newest entry, counting the snapshot.
func (n *Node) lastIndexLocked() uint64 {
	if len(n.log) > 0 {
		return n.log[len(n.log)-1].Index
	}
	return n.snapMeta.LastIncludedIndex
}

func (n *Node) lastTermLocked() uint64 {
	if len(n.log) > 0 {
		return n.log[len(n.log)-1].Term
	}
	return n.snapMeta.LastIncludedTerm
}

// termAtLocked returns the term of the entry at index; ok is false when the
// index is neither in the log nor at the snapshot boundary.
func (n *Node) termAtLocked(index uint64) (uint64, bool) {
	if index == 0 {
		return 0, true
	}
	if index == n.snapMeta.LastIncludedIndex {
		return n.snapMeta.LastIncludedTerm, true
	}
	if entry, ok := n.entryAtLocked(index); ok {
		return entry.Term, true
	}
	return 0, false
}

func (n *Node) entryAtLocked(index uint64) (LogEntry, bool) {
	if index <= n.snapMeta.LastIncludedIndex {
		return LogEntry{}, false
	}
	offset := index - n.snapMeta.LastIncludedIndex - 1
	if offset >= uint64(len(n.log)) {
		return LogEntry{}, false
	}
	return n.log[offset], true
}

// entriesFromLocked returns a copy of the suffix starting at index.
func (n *Node) entriesFromLocked(index uint64) []LogEntry {
	if index <= n.snapMeta.LastIncludedIndex {
		index = n.snapMeta.LastIncludedIndex + 1
	}
	offset := index - n.snapMeta.LastIncludedIndex - 1
	if offset >= uint64(len(n.log)) {
		return nil
	}
	out := make([]LogEntry, len(n.log)-int(offset))
	copy(out, n.log[offset:])
	return out
}

// truncateFromLocked drops the entry at index and everything after it.
func (n *Node) truncateFromLocked(index uint64) {
	if index <= n.snapMeta.LastIncludedIndex {
		return
	}
	offset := index - n.snapMeta.LastIncludedIndex - 1
	if offset < uint64(len(n.log)) {
		n.log = n.log[:offset]
	}
}

// maybeSnapshotLocked compacts the log once it exceeds the threshold by
// capturing the state machine at lastApplied.
func (n *Node) maybeSnapshotLocked(ctx context.Context) {
	if len(n.log) < n.opts.SnapshotThreshold || n.lastApplied <= n.snapMeta.LastIncludedIndex {
		return
	}
	term, ok := n.termAtLocked(n.lastApplied)
	if !ok {
		return
	}
	data, err := n.snapper.Snapshot(ctx)
	if err != nil {
		n.logger.Errorw("capturing snapshot", "error", err)
		return
	}
	boundary := n.lastApplied
	var suffix []LogEntry
	for _, e := range n.log {
		if e.Index > boundary {
			suffix = append(suffix, e)
		}
	}
	n.snapMeta = snapshotMeta{LastIncludedIndex: boundary, LastIncludedTerm: term, Data: data}
	n.log = suffix
	if err := n.persistSnapshotLocked(ctx); err != nil {
		n.logger.Errorw("persisting snapshot", "error", err)
		return
	}
	if err := n.persistLogLocked(ctx); err != nil {
		n.logger.Errorw("persisting compacted log", "error", err)
		return
	}
	n.logger.Infow("compacted log", "lastIncluded", boundary, "remaining", len(n.log))
}
