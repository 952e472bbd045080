package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	jobs "github.com/pygame-community/snakecore-jobs"
	"github.com/pygame-community/snakecore-jobs/id"
)

// snapshotEnvelope is the on-disk shape of a schedule snapshot: the flat
// identifier list plus buckets keyed by target nanosecond stamp. The
// postmortem bucket is never part of a snapshot.
type snapshotEnvelope struct {
	Identifiers []id.ScheduleID            `json:"identifiers"`
	Data        map[string]json.RawMessage `json:"data"`
}

// ExportSchedules serializes all live schedule records. Buckets still
// sitting undecoded from a lazy import are copied through verbatim;
// decoded buckets are marshaled concurrently under the serde semaphore.
func (m *Manager) ExportSchedules(ctx context.Context) ([]byte, error) {
	m.schedMu.Lock()
	env := snapshotEnvelope{
		Identifiers: make([]id.ScheduleID, 0, len(m.sched.ids)),
		Data:        make(map[string]json.RawMessage, len(m.sched.buckets)),
	}
	for sid := range m.sched.ids {
		env.Identifiers = append(env.Identifiers, sid)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for key, b := range m.sched.buckets {
		if key == postmortemBucket {
			continue
		}
		if !b.decoded() {
			env.Data[key] = b.raw
			continue
		}
		key, b := key, b
		g.Go(func() error {
			if err := m.serde.Acquire(gctx, 1); err != nil {
				return err
			}
			defer m.serde.Release(1)
			blob, err := json.Marshal(b.records)
			if err != nil {
				return fmt.Errorf("jobs: encoding schedule bucket %s: %w", key, err)
			}
			mu.Lock()
			env.Data[key] = blob
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	m.schedMu.Unlock()
	if err != nil {
		return nil, err
	}

	sort.Slice(env.Identifiers, func(i, j int) bool {
		return env.Identifiers[i] < env.Identifiers[j]
	})
	return json.Marshal(env)
}

// ImportSchedules replaces the schedule table with a snapshot. Without
// overwrite, importing over existing records fails with
// ErrScheduleExists. With eager set, every bucket is decoded up front
// (concurrently); otherwise buckets decode on first use, so a large
// snapshot costs almost nothing until its records come due.
func (m *Manager) ImportSchedules(ctx context.Context, blob []byte, eager, overwrite bool) error {
	var env snapshotEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return fmt.Errorf("jobs: decoding schedule snapshot: %w", err)
	}

	m.schedMu.Lock()
	defer m.schedMu.Unlock()
	if len(m.sched.ids) > 0 && !overwrite {
		return jobs.ErrScheduleExists
	}

	table := newScheduleTable(m.cfg.SchedulingYieldRate)
	for key, raw := range env.Data {
		if key == postmortemBucket {
			continue
		}
		table.buckets[key] = &bucket{raw: raw}
	}
	for _, sid := range env.Identifiers {
		table.ids[sid] = struct{}{}
	}
	m.sched = table

	if !eager {
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range table.buckets {
		b := b
		g.Go(func() error { return m.decodeBucket(gctx, b) })
	}
	return g.Wait()
}

// SaveSchedules exports the schedule table and persists it under this
// manager's stable name in the configured store.
func (m *Manager) SaveSchedules(ctx context.Context) error {
	if m.store == nil {
		return jobs.ErrNoStore
	}
	blob, err := m.ExportSchedules(ctx)
	if err != nil {
		return err
	}
	return m.store.SaveSnapshot(ctx, m.name, blob)
}

// LoadSchedules loads this manager's snapshot from the configured store
// and imports it. Loading over an already-populated table fails with
// ErrScheduleExists.
func (m *Manager) LoadSchedules(ctx context.Context, eager bool) error {
	if m.store == nil {
		return jobs.ErrNoStore
	}
	blob, err := m.store.LoadSnapshot(ctx, m.name)
	if err != nil {
		return err
	}
	return m.ImportSchedules(ctx, blob, eager, false)
}
