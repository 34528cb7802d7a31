package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "hansbot/pkg/logx"
)

// fileStore keeps the tables in memory and makes them durable with files:
//   - <prefix>.audit.jsonl    (append-only JSON Lines)
//   - <prefix>.snapshot.json  (periodic snapshot)
//   - <prefix>.journal.jsonl  (append-only journal of mutations)
//
// The journal is compacted into the snapshot every compactEvery writes and on Close.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex
	st state

	auditFile    *os.File
	snapshotPath string
	journalFile  *os.File
	writes       int
	compactEvery int
}

const (
	opPutPlugin     = "plugin.put"
	opDeletePlugins = "plugin.delete_tenant"
	opPutJob        = "job.put"
	opDeleteJob     = "job.delete"
)

type journalRecord struct {
	Op        string        `json:"op"`
	Plugin    *PluginRecord `json:"plugin,omitempty"`
	Job       *JobRecord    `json:"job,omitempty"`
	TenantID  string        `json:"tenant_id,omitempty"`
	ChannelID string        `json:"channel_id,omitempty"`
}

type snapshot struct {
	Plugins []PluginRecord `json:"plugins"`
	Jobs    []JobRecord    `json:"jobs"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	af, err := os.OpenFile(prefix+".audit.jsonl", os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}

	st := newState()
	snapPath := prefix + ".snapshot.json"
	journalPath := prefix + ".journal.jsonl"
	if err := loadSnapshot(snapPath, &st); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = af.Close()
		return nil, err
	}
	if err := replayJournal(journalPath, &st); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = af.Close()
		return nil, err
	}

	jf, err := os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = af.Close()
		return nil, err
	}

	return &fileStore{
		log:          log,
		st:           st,
		auditFile:    af,
		snapshotPath: snapPath,
		journalFile:  jf,
		compactEvery: 1000,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil
	}
	errCompact := s.compactLocked()
	errJournal := s.journalFile.Close()
	errAudit := s.auditFile.Close()
	s.journalFile = nil
	s.auditFile = nil
	return errors.Join(errCompact, errJournal, errAudit)
}

func (s *fileStore) GetPlugin(ctx context.Context, tenantID, plugin string) (PluginRecord, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return PluginRecord{}, false, ErrClosed
	}
	rec, ok := s.st.getPlugin(tenantID, plugin)
	return rec, ok, nil
}

func (s *fileStore) PutPlugin(ctx context.Context, rec PluginRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opPutPlugin, Plugin: &rec}); err != nil {
		return err
	}
	s.st.putPlugin(rec)
	return nil
}

func (s *fileStore) DeletePlugins(ctx context.Context, tenantID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opDeletePlugins, TenantID: tenantID}); err != nil {
		return err
	}
	s.st.deletePlugins(tenantID)
	return nil
}

func (s *fileStore) ListJobs(ctx context.Context) ([]JobRecord, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return nil, ErrClosed
	}
	return s.st.listJobs(), nil
}

func (s *fileStore) PutJob(ctx context.Context, rec JobRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opPutJob, Job: &rec}); err != nil {
		return err
	}
	s.st.jobs[jobKey(rec.TenantID, rec.ChannelID)] = rec
	return nil
}

func (s *fileStore) DeleteJob(ctx context.Context, tenantID, channelID string) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.appendLocked(journalRecord{Op: opDeleteJob, TenantID: tenantID, ChannelID: channelID}); err != nil {
		return err
	}
	delete(s.st.jobs, jobKey(tenantID, channelID))
	return nil
}

func (s *fileStore) AppendAudit(ctx context.Context, e AuditEntry) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.auditFile == nil {
		return ErrClosed
	}
	return json.NewEncoder(s.auditFile).Encode(e)
}

// appendLocked writes the journal record first; the in-memory table is only
// mutated once the record is on disk.
func (s *fileStore) appendLocked(r journalRecord) error {
	if s.journalFile == nil {
		return ErrClosed
	}
	if err := json.NewEncoder(s.journalFile).Encode(r); err != nil {
		return err
	}
	s.writes++
	if s.compactEvery > 0 && s.writes%s.compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Warn("journal compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	snap := snapshot{Plugins: make([]PluginRecord, 0, len(s.st.plugins)), Jobs: s.st.listJobs()}
	for _, rec := range s.st.plugins {
		snap.Plugins = append(snap.Plugins, rec)
	}

	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snap); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, 2)
	return err
}

func loadSnapshot(path string, st *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var snap snapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	for _, rec := range snap.Plugins {
		st.putPlugin(rec)
	}
	for _, j := range snap.Jobs {
		st.jobs[jobKey(j.TenantID, j.ChannelID)] = j
	}
	return nil
}

func replayJournal(path string, st *state) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r journalRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// torn tail write
			continue
		}
		switch r.Op {
		case opPutPlugin:
			if r.Plugin != nil {
				st.putPlugin(*r.Plugin)
			}
		case opDeletePlugins:
			st.deletePlugins(r.TenantID)
		case opPutJob:
			if r.Job != nil {
				st.jobs[jobKey(r.Job.TenantID, r.Job.ChannelID)] = *r.Job
			}
		case opDeleteJob:
			delete(st.jobs, jobKey(r.TenantID, r.ChannelID))
		}
	}
	return sc.Err()
}
