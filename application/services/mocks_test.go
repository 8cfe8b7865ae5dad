package services

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"membank-backend/application/ports"
	"membank-backend/domain/job"
	"membank-backend/domain/memory"
	apperrors "membank-backend/pkg/errors"
)

// fakeKV is an in-memory stand-in for the distributed cache
type fakeKV struct {
	mu       sync.Mutex
	values   map[string]string
	versions map[string]int64
	bumps    int
	delay    time.Duration // artificial read latency for timeout tests
}

func newFakeKV() *fakeKV {
	return &fakeKV{values: make(map[string]string), versions: make(map[string]int64)}
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, bool) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.values[key]
	return value, ok
}

func (f *fakeKV) SetEx(ctx context.Context, key, value string, ttl time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = value
}

func (f *fakeKV) Del(ctx context.Context, keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, key := range keys {
		delete(f.values, key)
	}
}

func (f *fakeKV) ScanDel(ctx context.Context, pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	deleted := 0
	for key := range f.values {
		if strings.HasPrefix(key, prefix) {
			delete(f.values, key)
			deleted++
		}
	}
	return deleted
}

func (f *fakeKV) GetUserVersion(ctx context.Context, userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	version, ok := f.versions[userID]
	if !ok {
		return ""
	}
	return strconv.FormatInt(version, 10)
}

func (f *fakeKV) BumpUserVersion(ctx context.Context, userID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.versions[userID]++
	f.bumps++
	return strconv.FormatInt(f.versions[userID], 10)
}

var _ ports.KV = (*fakeKV)(nil)

// mockEmbedder returns a fixed vector and counts invocations
type mockEmbedder struct {
	mu     sync.Mutex
	vector []float32
	calls  int
	err    error
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.vector, nil
}

func (m *mockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	vecs := make([][]float32, len(texts))
	for i := range texts {
		vecs[i] = m.vector
	}
	return vecs, nil
}

func (m *mockEmbedder) Dim() int { return len(m.vector) }

func (m *mockEmbedder) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// mockExtractor returns canned fact candidates
type mockExtractor struct {
	candidates []memory.FactCandidate
	err        error
	calls      int
}

func (m *mockExtractor) Extract(ctx context.Context, conversation []memory.Turn) ([]memory.FactCandidate, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.candidates, nil
}

// mockFactRepository records created facts and serves canned search results
type mockFactRepository struct {
	mu          sync.Mutex
	facts       map[string]*memory.Fact
	searchHits  []*memory.Fact
	searchErr   error
	searchCalls int
	createErr   error
}

func newMockFactRepository() *mockFactRepository {
	return &mockFactRepository{facts: make(map[string]*memory.Fact)}
}

func (m *mockFactRepository) Create(ctx context.Context, fact *memory.Fact) (*memory.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return nil, m.createErr
	}
	m.facts[fact.ID] = fact
	return fact, nil
}

func (m *mockFactRepository) GetByID(ctx context.Context, factID string) (*memory.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fact, ok := m.facts[factID]
	if !ok {
		return nil, apperrors.NewNotFoundError("fact")
	}
	return fact, nil
}

func (m *mockFactRepository) GetByUser(ctx context.Context, userID string, limit int) ([]*memory.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var facts []*memory.Fact
	for _, fact := range m.facts {
		if fact.UserID == userID {
			facts = append(facts, fact)
		}
	}
	if len(facts) > limit {
		facts = facts[:limit]
	}
	return facts, nil
}

func (m *mockFactRepository) SearchSimilar(ctx context.Context, userID string, queryVec []float32, topK int, scoreThreshold float64, queryText string) ([]*memory.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searchCalls++
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.searchHits, nil
}

func (m *mockFactRepository) GetRelatedFacts(ctx context.Context, factID string) ([]string, error) {
	return nil, nil
}

func (m *mockFactRepository) Delete(ctx context.Context, factID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.facts, factID)
	return nil
}

func (m *mockFactRepository) DeleteByUser(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, fact := range m.facts {
		if fact.UserID == userID {
			delete(m.facts, id)
		}
	}
	return nil
}

func (m *mockFactRepository) searchCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.searchCalls
}

var _ ports.FactRepository = (*mockFactRepository)(nil)

// mockMetadataStore implements the job and favourite-summary surface the
// services exercise; the fact surface delegates to simple maps.
type mockMetadataStore struct {
	mu        sync.Mutex
	jobs      map[string]*job.Job
	summaries map[string]map[string][]string
	userIDs   []string
	createErr error
	updateErr error
}

func newMockMetadataStore() *mockMetadataStore {
	return &mockMetadataStore{
		jobs:      make(map[string]*job.Job),
		summaries: make(map[string]map[string][]string),
	}
}

func (m *mockMetadataStore) UpsertFact(ctx context.Context, fact *memory.Fact) error { return nil }

func (m *mockMetadataStore) FactByID(ctx context.Context, factID string) (*memory.Fact, error) {
	return nil, apperrors.NewNotFoundError("fact")
}

func (m *mockMetadataStore) FactsByIDs(ctx context.Context, factIDs []string) (map[string]*memory.Fact, error) {
	return map[string]*memory.Fact{}, nil
}

func (m *mockMetadataStore) FactsByUser(ctx context.Context, userID string, limit int) ([]*memory.Fact, error) {
	return nil, nil
}

func (m *mockMetadataStore) KeywordSearch(ctx context.Context, userID string, tokens []string, limit int) ([]ports.KeywordHit, error) {
	return nil, nil
}

func (m *mockMetadataStore) DeleteFact(ctx context.Context, factID string) error { return nil }

func (m *mockMetadataStore) DeleteFactsByUser(ctx context.Context, userID string) error { return nil }

func (m *mockMetadataStore) DistinctUserIDs(ctx context.Context) ([]string, error) {
	return m.userIDs, nil
}

func (m *mockMetadataStore) CreateJob(ctx context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	clone := *j
	m.jobs[j.ID] = &clone
	return nil
}

func (m *mockMetadataStore) JobByID(ctx context.Context, jobID string) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, apperrors.NewNotFoundError("job")
	}
	clone := *j
	return &clone, nil
}

func (m *mockMetadataStore) UpdateJob(ctx context.Context, j *job.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.updateErr != nil {
		return m.updateErr
	}
	existing, ok := m.jobs[j.ID]
	if !ok {
		return apperrors.NewNotFoundError("job")
	}
	if existing.Status.IsTerminal() {
		return apperrors.NewValidationError("job is terminal: " + j.ID)
	}
	clone := *j
	m.jobs[j.ID] = &clone
	return nil
}

func (m *mockMetadataStore) UpsertFavoriteSummary(ctx context.Context, userID string, summary map[string][]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.summaries[userID] = summary
	return nil
}

func (m *mockMetadataStore) FavoriteSummary(ctx context.Context, userID string) (map[string][]string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	summary, ok := m.summaries[userID]
	return summary, ok
}

func (m *mockMetadataStore) jobStatus(jobID string) job.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		return j.Status
	}
	return ""
}

var _ ports.MetadataStore = (*mockMetadataStore)(nil)

// mockQueue records published messages
type mockQueue struct {
	mu         sync.Mutex
	published  [][]byte
	publishErr error
}

func (m *mockQueue) Publish(ctx context.Context, queue string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return m.publishErr
	}
	m.published = append(m.published, body)
	return nil
}

func (m *mockQueue) Consume(ctx context.Context, queue string, prefetch int, handler ports.MessageHandler) error {
	<-ctx.Done()
	return ctx.Err()
}

var _ ports.MessageQueue = (*mockQueue)(nil)
