package repository

import (
	"context"
	"sync"

	"membank-backend/application/ports"
	"membank-backend/domain/job"
	"membank-backend/domain/memory"
	apperrors "membank-backend/pkg/errors"
)

// fakeVectorIndex serves canned hits and records writes
type fakeVectorIndex struct {
	mu        sync.Mutex
	inserted  map[string]*memory.Fact
	hits      []ports.VectorHit
	insertErr error
	searchErr error
	deleted   []string
}

func newFakeVectorIndex() *fakeVectorIndex {
	return &fakeVectorIndex{inserted: make(map[string]*memory.Fact)}
}

func (f *fakeVectorIndex) Insert(ctx context.Context, fact *memory.Fact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted[fact.ID] = fact
	return nil
}

func (f *fakeVectorIndex) Search(ctx context.Context, vec []float32, userID string, topK int, threshold float64) ([]ports.VectorHit, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	hits := f.hits
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (f *fakeVectorIndex) DeleteByID(ctx context.Context, factID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, factID)
	delete(f.inserted, factID)
	return nil
}

func (f *fakeVectorIndex) DeleteByUser(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, "user:"+userID)
	return nil
}

var _ ports.VectorIndex = (*fakeVectorIndex)(nil)

// fakeGraphStore records nodes and edges
type fakeGraphStore struct {
	mu        sync.Mutex
	users     map[string]bool
	facts     map[string]*memory.Fact
	relations map[string][]ports.Relation
	upsertErr error
	deleted   []string
}

func newFakeGraphStore() *fakeGraphStore {
	return &fakeGraphStore{
		users:     make(map[string]bool),
		facts:     make(map[string]*memory.Fact),
		relations: make(map[string][]ports.Relation),
	}
}

func (f *fakeGraphStore) EnsureUser(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[userID] = true
	return nil
}

func (f *fakeGraphStore) UpsertFact(ctx context.Context, fact *memory.Fact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.facts[fact.ID] = fact
	return nil
}

func (f *fakeGraphStore) Link(ctx context.Context, sourceID, targetID, relType string, props map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relations[sourceID] = append(f.relations[sourceID], ports.Relation{FactID: targetID, Type: relType, Props: props})
	return nil
}

func (f *fakeGraphStore) RelationsOf(ctx context.Context, factID string) ([]ports.Relation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.relations[factID], nil
}

func (f *fakeGraphStore) DeleteFact(ctx context.Context, factID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, factID)
	delete(f.facts, factID)
	return nil
}

func (f *fakeGraphStore) DeleteUser(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, "user:"+userID)
	delete(f.users, userID)
	return nil
}

var _ ports.GraphStore = (*fakeGraphStore)(nil)

// fakeMetadataStore keeps fact rows in a map; jobs and summaries are not
// exercised by these tests.
type fakeMetadataStore struct {
	mu          sync.Mutex
	facts       map[string]*memory.Fact
	keywordHits []ports.KeywordHit
	keywordErr  error
	upsertErr   error
	deleted     []string
}

func newFakeMetadataStore() *fakeMetadataStore {
	return &fakeMetadataStore{facts: make(map[string]*memory.Fact)}
}

func (f *fakeMetadataStore) UpsertFact(ctx context.Context, fact *memory.Fact) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.facts[fact.ID] = fact
	return nil
}

func (f *fakeMetadataStore) FactByID(ctx context.Context, factID string) (*memory.Fact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fact, ok := f.facts[factID]
	if !ok {
		return nil, apperrors.NewNotFoundError("fact")
	}
	return fact, nil
}

func (f *fakeMetadataStore) FactsByIDs(ctx context.Context, factIDs []string) (map[string]*memory.Fact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	found := make(map[string]*memory.Fact)
	for _, id := range factIDs {
		if fact, ok := f.facts[id]; ok {
			found[id] = fact
		}
	}
	return found, nil
}

func (f *fakeMetadataStore) FactsByUser(ctx context.Context, userID string, limit int) ([]*memory.Fact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var facts []*memory.Fact
	for _, fact := range f.facts {
		if fact.UserID == userID {
			facts = append(facts, fact)
		}
	}
	if len(facts) > limit {
		facts = facts[:limit]
	}
	return facts, nil
}

func (f *fakeMetadataStore) KeywordSearch(ctx context.Context, userID string, tokens []string, limit int) ([]ports.KeywordHit, error) {
	if f.keywordErr != nil {
		return nil, f.keywordErr
	}
	hits := f.keywordHits
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (f *fakeMetadataStore) DeleteFact(ctx context.Context, factID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, factID)
	delete(f.facts, factID)
	return nil
}

func (f *fakeMetadataStore) DeleteFactsByUser(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, "user:"+userID)
	return nil
}

func (f *fakeMetadataStore) DistinctUserIDs(ctx context.Context) ([]string, error) { return nil, nil }

func (f *fakeMetadataStore) CreateJob(ctx context.Context, j *job.Job) error { return nil }

func (f *fakeMetadataStore) JobByID(ctx context.Context, jobID string) (*job.Job, error) {
	return nil, apperrors.NewNotFoundError("job")
}

func (f *fakeMetadataStore) UpdateJob(ctx context.Context, j *job.Job) error { return nil }

func (f *fakeMetadataStore) UpsertFavoriteSummary(ctx context.Context, userID string, summary map[string][]string) error {
	return nil
}

func (f *fakeMetadataStore) FavoriteSummary(ctx context.Context, userID string) (map[string][]string, bool) {
	return nil, false
}

var _ ports.MetadataStore = (*fakeMetadataStore)(nil)
