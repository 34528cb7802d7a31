package storage

import (
	"context"
	"sort"
	"sync"
)

// state holds the in-memory tables shared by the memory and file drivers.
// Callers must hold the owning store's lock.
type state struct {
	plugins map[string]PluginRecord
	jobs    map[string]JobRecord
	audit   []AuditEntry
}

func newState() state {
	return state{plugins: map[string]PluginRecord{}, jobs: map[string]JobRecord{}}
}

func (s *state) getPlugin(tenantID, plugin string) (PluginRecord, bool) {
	rec, ok := s.plugins[pluginKey(tenantID, plugin)]
	if !ok {
		return PluginRecord{}, false
	}
	rec.Settings = cloneRaw(rec.Settings)
	return rec, true
}

func (s *state) putPlugin(rec PluginRecord) {
	rec.Settings = cloneRaw(rec.Settings)
	s.plugins[pluginKey(rec.TenantID, rec.Plugin)] = rec
}

func (s *state) deletePlugins(tenantID string) {
	for k, rec := range s.plugins {
		if rec.TenantID == tenantID {
			delete(s.plugins, k)
		}
	}
}

func (s *state) listJobs() []JobRecord {
	out := make([]JobRecord, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TenantID != out[j].TenantID {
			return out[i].TenantID < out[j].TenantID
		}
		return out[i].ChannelID < out[j].ChannelID
	})
	return out
}

// memAuditMax bounds the in-memory audit trail.
const memAuditMax = 1000

type memStore struct {
	mu     sync.Mutex
	st     state
	closed bool
}

// NewMemory returns a process-local Store.
func NewMemory() Store {
	return &memStore{st: newState()}
}

func (m *memStore) GetPlugin(ctx context.Context, tenantID, plugin string) (PluginRecord, bool, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return PluginRecord{}, false, ErrClosed
	}
	rec, ok := m.st.getPlugin(tenantID, plugin)
	return rec, ok, nil
}

func (m *memStore) PutPlugin(ctx context.Context, rec PluginRecord) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.st.putPlugin(rec)
	return nil
}

func (m *memStore) DeletePlugins(ctx context.Context, tenantID string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.st.deletePlugins(tenantID)
	return nil
}

func (m *memStore) ListJobs(ctx context.Context) ([]JobRecord, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.st.listJobs(), nil
}

func (m *memStore) PutJob(ctx context.Context, rec JobRecord) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.st.jobs[jobKey(rec.TenantID, rec.ChannelID)] = rec
	return nil
}

func (m *memStore) DeleteJob(ctx context.Context, tenantID, channelID string) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	delete(m.st.jobs, jobKey(tenantID, channelID))
	return nil
}

func (m *memStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.st.audit = append(m.st.audit, e)
	if len(m.st.audit) > memAuditMax {
		m.st.audit = m.st.audit[len(m.st.audit)-memAuditMax:]
	}
	return nil
}

func (m *memStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
