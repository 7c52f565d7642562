package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/pindrop/internal/common"
	"github.com/dmitrijs2005/pindrop/internal/dbx"
	"github.com/dmitrijs2005/pindrop/internal/logging"
	"github.com/dmitrijs2005/pindrop/internal/server/blobstore"
	"github.com/dmitrijs2005/pindrop/internal/server/cache"
	"github.com/dmitrijs2005/pindrop/internal/server/governor"
	"github.com/dmitrijs2005/pindrop/internal/server/lifecycle"
	"github.com/dmitrijs2005/pindrop/internal/server/models"
	"github.com/dmitrijs2005/pindrop/internal/server/pincodec"
	"github.com/dmitrijs2005/pindrop/internal/server/quota"
	"github.com/dmitrijs2005/pindrop/internal/server/repositories/buckets"
	"github.com/dmitrijs2005/pindrop/internal/server/repositories/files"
	"github.com/dmitrijs2005/pindrop/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

const mib = 1 << 20

// -------- in-memory store --------

type memStore struct {
	mu      sync.Mutex
	buckets map[string]*models.Bucket
	files   map[string]*models.File
	now     func() time.Time

	createErrs  []error
	createCalls int
	fileErr     error
	listErr     error
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{buckets: map[string]*models.Bucket{}, files: map[string]*models.File{}, now: now}
}

func copyBucket(b *models.Bucket) *models.Bucket {
	c := *b
	c.Collaborators = append([]string(nil), b.Collaborators...)
	return &c
}

func copyFile(f *models.File) *models.File {
	c := *f
	return &c
}

// put stores b as-is, for fixtures.
func (s *memStore) put(b *models.Bucket) *models.Bucket {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	s.buckets[b.ID] = copyBucket(b)
	return b
}

func (s *memStore) putFile(f *models.File) *models.File {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.StorageKey == "" {
		f.StorageKey = "buckets/" + f.BucketID + "/" + f.ID
	}
	s.files[f.ID] = copyFile(f)
	return f
}

func (s *memStore) bucket(id string) (*models.Bucket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.buckets[id]
	if !ok {
		return nil, false
	}
	return copyBucket(b), true
}

func (s *memStore) file(id string) (*models.File, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.files[id]
	if !ok {
		return nil, false
	}
	return copyFile(f), true
}

func (s *memStore) purge(bucketID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, f := range s.files {
		if f.BucketID == bucketID {
			delete(s.files, id)
			n++
		}
	}
	delete(s.buckets, bucketID)
	return n
}

type memBuckets struct {
	buckets.Repository
	s *memStore
}

func (r *memBuckets) Create(_ context.Context, b *models.Bucket) (*models.Bucket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.createCalls++
	if len(r.s.createErrs) > 0 {
		err := r.s.createErrs[0]
		r.s.createErrs = r.s.createErrs[1:]
		return nil, err
	}
	c := copyBucket(b)
	c.ID = uuid.NewString()
	c.CreatedAt = r.s.now()
	c.UpdatedAt = c.CreatedAt
	c.Active = true
	r.s.buckets[c.ID] = c
	return copyBucket(c), nil
}

func (r *memBuckets) GetByID(_ context.Context, id string) (*models.Bucket, error) {
	if b, ok := r.s.bucket(id); ok {
		return b, nil
	}
	return nil, common.ErrorNotFound
}

func (r *memBuckets) FindActiveByLegacyPin(_ context.Context, pin string) (*models.Bucket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, b := range r.s.buckets {
		if lp, ok := b.Credential.(models.LegacyPlain); ok && b.Active && strings.EqualFold(lp.Pin, pin) {
			return copyBucket(b), nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *memBuckets) PinCandidates(_ context.Context, afterID string, limit int) ([]models.PinCandidate, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []models.PinCandidate
	for _, b := range r.s.buckets {
		p, ok := b.Credential.(models.Protected)
		if !ok || !b.Active || b.ID <= afterID {
			continue
		}
		out = append(out, models.PinCandidate{BucketID: b.ID, Hash: p.Hash})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketID < out[j].BucketID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memBuckets) ListByOwner(_ context.Context, ownerID string) ([]*models.Bucket, error) {
	return r.filter(func(b *models.Bucket) bool { return b.OwnerID == ownerID })
}

func (r *memBuckets) ListByCollaborator(_ context.Context, email string) ([]*models.Bucket, error) {
	return r.filter(func(b *models.Bucket) bool {
		if !b.Active {
			return false
		}
		for _, c := range b.Collaborators {
			if c == email {
				return true
			}
		}
		return false
	})
}

func (r *memBuckets) filter(keep func(*models.Bucket) bool) ([]*models.Bucket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.listErr != nil {
		return nil, r.s.listErr
	}
	var out []*models.Bucket
	for _, b := range r.s.buckets {
		if keep(b) {
			out = append(out, copyBucket(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memBuckets) Update(_ context.Context, id string, p models.BucketPatch) (*models.Bucket, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.buckets[id]
	if !ok || !b.Active {
		return nil, common.ErrorNotFound
	}
	if p.Name != nil {
		b.Name = *p.Name
	}
	if p.Description != nil {
		b.Description = *p.Description
	}
	if p.Collaborators != nil {
		b.Collaborators = append([]string(nil), (*p.Collaborators)...)
	}
	if p.Color != nil {
		b.Color = *p.Color
	}
	if p.Icon != nil {
		b.Icon = *p.Icon
	}
	b.UpdatedAt = r.s.now()
	return copyBucket(b), nil
}

func (r *memBuckets) Deactivate(_ context.Context, id, reason string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.buckets[id]
	if !ok || !b.Active {
		return common.ErrorNotFound
	}
	b.Active = false
	b.DeletedAt = &at
	b.DeletionReason = reason
	b.UpdatedAt = at
	return nil
}

func (r *memBuckets) Restore(_ context.Context, id string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.buckets[id]
	if !ok || b.Active {
		return common.ErrorNotFound
	}
	b.Active = true
	b.DeletedAt = nil
	b.DeletionReason = ""
	b.UpdatedAt = at
	return nil
}

func (r *memBuckets) RecomputeStats(_ context.Context, id string) (models.UsageTotals, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	b, ok := r.s.buckets[id]
	if !ok {
		return models.UsageTotals{}, common.ErrorNotFound
	}
	var t models.UsageTotals
	for _, f := range r.s.files {
		if f.BucketID == id && f.Active {
			t.Files++
			t.Bytes += f.Size
		}
	}
	b.FileCount, b.ByteSize = t.Files, t.Bytes
	return t, nil
}

type memFiles struct {
	files.Repository
	s *memStore
}

func (r *memFiles) Create(_ context.Context, f *models.File) (*models.File, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.fileErr != nil {
		return nil, r.s.fileErr
	}
	c := copyFile(f)
	c.ID = uuid.NewString()
	c.Active = true
	c.CreatedAt = r.s.now()
	r.s.files[c.ID] = c
	return copyFile(c), nil
}

// checkID fails like the uuid column does for malformed ids.
func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("db error: invalid input syntax for type uuid: %q", id)
	}
	return nil
}

func (r *memFiles) GetActive(_ context.Context, bucketID, id string) (*models.File, error) {
	if err := checkID(id); err != nil {
		return nil, err
	}
	f, ok := r.s.file(id)
	if !ok || !f.Active || f.BucketID != bucketID {
		return nil, common.ErrorNotFound
	}
	return f, nil
}

func (r *memFiles) ListActive(_ context.Context, bucketID string) ([]*models.File, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.File
	for _, f := range r.s.files {
		if f.BucketID == bucketID && f.Active {
			out = append(out, copyFile(f))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *memFiles) mutate(bucketID, id string, fn func(f *models.File)) error {
	if err := checkID(id); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	f, ok := r.s.files[id]
	if !ok || !f.Active || f.BucketID != bucketID {
		return common.ErrorNotFound
	}
	fn(f)
	return nil
}

func (r *memFiles) Rename(_ context.Context, bucketID, id, name string) error {
	return r.mutate(bucketID, id, func(f *models.File) { f.Name = name })
}

func (r *memFiles) Deactivate(_ context.Context, bucketID, id string) error {
	return r.mutate(bucketID, id, func(f *models.File) { f.Active = false })
}

func (r *memFiles) Delete(_ context.Context, id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.files[id]; !ok {
		return common.ErrorNotFound
	}
	delete(r.s.files, id)
	return nil
}

func (r *memFiles) RecordDownload(_ context.Context, bucketID, id string, at time.Time) (*models.File, error) {
	var out *models.File
	err := r.mutate(bucketID, id, func(f *models.File) {
		f.Downloads++
		f.LastDownloadAt = &at
		out = copyFile(f)
	})
	return out, err
}

func (r *memFiles) ActiveBytesByOwner(_ context.Context, ownerID string) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var total int64
	for _, f := range r.s.files {
		b, ok := r.s.buckets[f.BucketID]
		if ok && b.OwnerID == ownerID && b.Active && f.Active {
			total += f.Size
		}
	}
	return total, nil
}

type memRepoManager struct {
	repomanager.RepositoryManager
	s *memStore
}

func (m *memRepoManager) Buckets(dbx.DBTX) buckets.Repository { return &memBuckets{s: m.s} }
func (m *memRepoManager) Files(dbx.DBTX) files.Repository     { return &memFiles{s: m.s} }

// -------- collaborators --------

type fakeLifecycle struct {
	s      *memStore
	cache  BucketCache
	now    func() time.Time
	purged []string
}

func (l *fakeLifecycle) CheckOnRead(ctx context.Context, b *models.Bucket) (*models.Bucket, error) {
	if lifecycle.PurgeDue(b, l.now()) {
		_, _ = l.Purge(ctx, b.ID)
		return nil, common.ErrorNotFound
	}
	return b, nil
}

func (l *fakeLifecycle) Purge(_ context.Context, id string) (lifecycle.PurgeReport, error) {
	l.purged = append(l.purged, id)
	l.cache.Forget(id)
	return lifecycle.PurgeReport{BucketID: id, FilesDeleted: l.s.purge(id)}, nil
}

func (l *fakeLifecycle) Sweep(context.Context) (lifecycle.SweepReport, error) {
	return lifecycle.SweepReport{}, nil
}

func (l *fakeLifecycle) Now() time.Time { return l.now() }

type fakeBlobs struct {
	mu        sync.Mutex
	objects   map[string][]byte
	putErr    error
	deleteErr error
	deleted   []string
}

func (b *fakeBlobs) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) (blobstore.Location, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.putErr != nil {
		return blobstore.Location{}, b.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return blobstore.Location{}, err
	}
	b.objects[key] = data
	return blobstore.Location{Key: key, URL: "https://blobs.example/" + key}, nil
}

func (b *fakeBlobs) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.objects, key)
	b.deleted = append(b.deleted, key)
	return nil
}

func (b *fakeBlobs) PresignGet(_ context.Context, key, filename string) (string, error) {
	return fmt.Sprintf("https://blobs.example/%s?name=%s", key, filename), nil
}

type fakeVerifier struct{ valid string }

func (v fakeVerifier) Verify(_ context.Context, token, _ string) (bool, error) {
	return token != "" && token == v.valid, nil
}

// -------- fixture --------

type fixture struct {
	svc    *BucketService
	store  *memStore
	ledger *governor.MemoryLedger
	life   *fakeLifecycle
	blobs  *fakeBlobs
	codec  *pincodec.Codec
	clock  time.Time
}

func (f *fixture) now() time.Time          { return f.clock }
func (f *fixture) advance(d time.Duration) { f.clock = f.clock.Add(d) }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{clock: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)}
	f.store = newMemStore(f.now)
	rm := &memRepoManager{s: f.store}

	codec, err := pincodec.New("enc-secret", "hash-secret")
	if err != nil {
		t.Fatalf("pincodec.New: %v", err)
	}
	f.codec = codec
	f.ledger = governor.NewMemoryLedger()
	bc := cache.NewBucketCache(64, time.Minute)
	f.life = &fakeLifecycle{s: f.store, cache: bc, now: f.now}
	f.blobs = &fakeBlobs{objects: map[string][]byte{}}

	gov := governor.New(f.ledger, fakeVerifier{valid: "solved"}, logging.Nop())
	acct := quota.NewAccountant(nil, rm, 30*mib, 10*mib)

	f.svc = NewBucketService(nil, rm, codec, gov, f.life, acct, f.blobs, bc, logging.Nop())
	f.svc.createBackoff = time.Millisecond
	return f
}

// protectedBucket stores an active bucket protected by pin.
func (f *fixture) protectedBucket(t *testing.T, owner, pin string, created time.Time) *models.Bucket {
	t.Helper()
	cred, err := f.codec.Protect(pin)
	if err != nil {
		t.Fatalf("Protect: %v", err)
	}
	return f.store.put(&models.Bucket{
		Name: "b-" + pin, OwnerID: owner, Active: true,
		CreatedAt: created, UpdatedAt: created, Credential: cred,
	})
}

func upload(name string, data []byte) models.UploadInput {
	return models.UploadInput{Name: name, Size: int64(len(data)), Body: bytes.NewReader(data)}
}

var errDB = errors.New("connection refused")
