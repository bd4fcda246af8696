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

package repository

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/shookYu/FalconMind/pkg/errors"
)

// record is one append-only log line. Tombstone deletes carry a nil value.
type record struct {
	Key       string `json:"k"`
	Value     []byte `json:"v,omitempty"`
	Tombstone bool   `json:"t,omitempty"`
}

// FileStore is an append-only JSON-lines log with a full in-memory index.
// Every write is flushed before returning; the log is compacted when the
// dead-record count passes compactThreshold.
type FileStore struct {
	mu        sync.Mutex
	path      string
	file      *os.File
	writer    *bufio.Writer
	data      map[string][]byte
	dead      int
	compactAt int
}

const defaultCompactThreshold = 10000

func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Fatal(err, "creating repository directory")
	}
	s := &FileStore{
		path:      path,
		data:      map[string][]byte{},
		compactAt: defaultCompactThreshold,
	}
	if err := s.replay(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Fatal(err, "opening repository log")
	}
	s.file = f
	s.writer = bufio.NewWriter(f)
	return s, nil
}

// replay rebuilds the index from the log, counting superseded records so a
// heavily rewritten log is compacted on the next write.
func (s *FileStore) replay() error {
	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Fatal(err, "opening repository log for replay")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var rec record
		if err := json.Unmarshal(line, &rec); err != nil {
			// Trailing partial write from a crash; stop replay here.
			break
		}
		if _, seen := s.data[rec.Key]; seen {
			s.dead++
		}
		if rec.Tombstone {
			delete(s.data, rec.Key)
		} else {
			s.data[rec.Key] = rec.Value
		}
	}
	return scanner.Err()
}

func (s *FileStore) append(rec record) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return errors.Fatal(err, "encoding repository record")
	}
	if _, err := s.writer.Write(append(line, '\n')); err != nil {
		return errors.Transient(err, "appending repository record")
	}
	if err := s.writer.Flush(); err != nil {
		return errors.Transient(err, "flushing repository log")
	}
	if s.dead > s.compactAt {
		return s.compactLocked()
	}
	return nil
}

// compactLocked rewrites the log with only live records. Caller holds mu.
func (s *FileStore) compactLocked() error {
	tmp := s.path + ".compact"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Transient(err, "creating compaction file")
	}
	w := bufio.NewWriter(f)
	for k, v := range s.data {
		line, err := json.Marshal(record{Key: k, Value: v})
		if err != nil {
			f.Close()
			return errors.Fatal(err, "encoding record during compaction")
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			f.Close()
			return errors.Transient(err, "writing compaction file")
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Transient(err, "flushing compaction file")
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Transient(err, "syncing compaction file")
	}
	f.Close()
	s.writer.Flush()
	s.file.Close()
	if err := os.Rename(tmp, s.path); err != nil {
		return errors.Fatal(err, "swapping compacted repository log")
	}
	nf, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return errors.Fatal(err, "reopening repository log")
	}
	s.file = nf
	s.writer = bufio.NewWriter(nf)
	s.dead = 0
	return nil
}

func (s *FileStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	if !ok {
		return nil, errors.NotFound("key %q", key)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *FileStore) Put(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.data[key]; seen {
		s.dead++
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	return s.append(record{Key: key, Value: stored})
}

func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.data[key]; !seen {
		return nil
	}
	s.dead++
	delete(s.data, key)
	return s.append(record{Key: key, Tombstone: true})
}

func (s *FileStore) ScanPrefix(_ context.Context, prefix string) ([]KV, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []KV
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			stored := make([]byte, len(v))
			copy(stored, v)
			out = append(out, KV{Key: k, Value: stored})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (s *FileStore) CompareAndSwap(_ context.Context, key string, expected, value []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.data[key]
	if expected == nil {
		if ok {
			return false, nil
		}
	} else if !ok || !bytes.Equal(current, expected) {
		return false, nil
	}
	if ok {
		s.dead++
	}
	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	if err := s.append(record{Key: key, Value: stored}); err != nil {
		return false, err
	}
	return true, nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writer != nil {
		s.writer.Flush()
	}
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
