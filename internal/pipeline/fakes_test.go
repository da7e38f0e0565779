package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/JakeFAU/geomap-ingest/internal/object"
)

type fakeRepo struct {
	mu        sync.Mutex
	objects   map[object.Destination]ObjectRecord
	processes map[int64]IngestProcess // by object group id
	sources   map[string]int64
	renamed   map[int64][2]string
	nextID    int64
	mutations int
	findErr   error
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		objects:   map[object.Destination]ObjectRecord{},
		processes: map[int64]IngestProcess{},
		sources:   map[string]int64{},
		renamed:   map[int64][2]string{},
	}
}

func (r *fakeRepo) FindObject(_ context.Context, dest object.Destination) (ObjectRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return ObjectRecord{}, r.findErr
	}
	rec, ok := r.objects[dest]
	if !ok {
		return ObjectRecord{}, ErrNotFound
	}
	return rec, nil
}

func (r *fakeRepo) FindIngestProcess(_ context.Context, groupID int64) (IngestProcess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	proc, ok := r.processes[groupID]
	if !ok {
		return IngestProcess{}, ErrNotFound
	}
	return proc, nil
}

func (r *fakeRepo) FindSourceID(_ context.Context, slug string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.sources[slug]
	if !ok {
		return 0, ErrNotFound
	}
	return id, nil
}

func (r *fakeRepo) CreateIngestProcess(context.Context) (IngestProcess, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations++
	r.nextID++
	group := r.nextID
	r.nextID++
	proc := IngestProcess{ID: r.nextID, ObjectGroupID: group, State: ProcessCreated}
	r.processes[group] = proc
	return proc, nil
}

func (r *fakeRepo) UpsertObject(_ context.Context, rec ObjectRecord) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations++
	if rec.ID == 0 {
		r.nextID++
		rec.ID = r.nextID
	}
	r.objects[rec.Destination] = rec
	return rec.ID, nil
}

func (r *fakeRepo) MarkIngested(_ context.Context, processID, sourceID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations++
	for group, proc := range r.processes {
		if proc.ID == processID {
			proc.State = ProcessIngested
			proc.SourceID = &sourceID
			r.processes[group] = proc
			return nil
		}
	}
	return ErrNotFound
}

func (r *fakeRepo) UpdateSource(_ context.Context, sourceID int64, name, scale string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mutations++
	r.renamed[sourceID] = [2]string{name, scale}
	return nil
}

func (r *fakeRepo) mutationCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mutations
}

type fakeStore struct {
	mu        sync.Mutex
	uploads   map[string]string // bucket/key -> local path
	content   map[string][]byte
	uploadErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{uploads: map[string]string{}, content: map[string][]byte{}}
}

func (s *fakeStore) Upload(_ context.Context, bucket, key, localPath, _ string) error {
	if s.uploadErr != nil {
		return s.uploadErr
	}
	// #nosec G304 -- test reads from the controlled temp directory.
	data, err := os.ReadFile(localPath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[bucket+"/"+key] = localPath
	s.content[bucket+"/"+key] = data
	return nil
}

func (s *fakeStore) Download(_ context.Context, bucket, key, localPath string) error {
	s.mu.Lock()
	data, ok := s.content[bucket+"/"+key]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("no such object %s/%s", bucket, key)
	}
	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return err
	}
	return os.WriteFile(localPath, data, 0o600)
}

func (s *fakeStore) PresignGet(_ context.Context, bucket, key string, _ time.Duration) (string, error) {
	return "https://signed.example/" + bucket + "/" + key, nil
}

func (s *fakeStore) List(context.Context, string, string) ([]string, error) {
	return nil, errors.New("not implemented")
}

func (s *fakeStore) uploadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.uploads)
}

type toolchainCall struct {
	sub  string
	args []string
}

type fakeToolchain struct {
	mu     sync.Mutex
	calls  []toolchainCall
	failOn string
	// onPrepare runs after prepare-fields, like the real toolchain creating the source row.
	onPrepare func(slug string)
}

func (f *fakeToolchain) record(sub string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, toolchainCall{sub: sub, args: args})
	if sub == f.failOn {
		return fmt.Errorf("%s: exit status 1", sub)
	}
	return nil
}

func (f *fakeToolchain) Ingest(_ context.Context, slug string, files []string) error {
	return f.record("ingest", append([]string{slug}, files...)...)
}

func (f *fakeToolchain) PrepareFields(_ context.Context, slug string) error {
	if err := f.record("prepare-fields", slug); err != nil {
		return err
	}
	if f.onPrepare != nil {
		f.onPrepare(slug)
	}
	return nil
}

func (f *fakeToolchain) CreateRgeom(_ context.Context, sourceID int64) error {
	return f.record("create-rgeom", fmt.Sprint(sourceID))
}

func (f *fakeToolchain) CreateWebgeom(_ context.Context, sourceID int64) error {
	return f.record("create-webgeom", fmt.Sprint(sourceID))
}

func (f *fakeToolchain) subcommands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.sub)
	}
	return out
}

type fakeMIME struct{ mime string }

func (f fakeMIME) Detect(string) (string, error) { return f.mime, nil }

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }
