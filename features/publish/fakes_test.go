package publish

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"socialpublish/features/integration"
	"socialpublish/internal/adapter/meta"
	"socialpublish/internal/apperr"
	"socialpublish/internal/retry"
)

var fixedNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// memStore applies the same guarded transitions as the SQL statements.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	seq  int
	now  func() time.Time
}

func newMemStore() *memStore {
	return &memStore{jobs: map[string]*Job{}, now: func() time.Time { return fixedNow }}
}

func (s *memStore) Enqueue(ctx context.Context, nj NewJob) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	id := fmt.Sprintf("job-%d", s.seq)
	s.jobs[id] = &Job{
		ID:            id,
		IntegrationID: nj.IntegrationID,
		UserID:        nj.UserID,
		ListingID:     nj.ListingID,
		Vertical:      nj.Vertical,
		Caption:       nj.Caption,
		ImageURL:      nj.ImageURL,
		Status:        StatusQueued,
		MaxAttempts:   nj.MaxAttempts,
		CreatedAt:     s.now().Add(time.Duration(s.seq) * time.Millisecond),
	}
	return id, nil
}

func (s *memStore) FetchDue(ctx context.Context, limit int, userID string) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Job
	for _, j := range s.jobs {
		if j.Status != StatusQueued && j.Status != StatusRetrying {
			continue
		}
		if j.NextRetryAt != nil && j.NextRetryAt.After(s.now()) {
			continue
		}
		if userID != "" && j.UserID != userID {
			continue
		}
		due = append(due, *j)
	}
	sort.Slice(due, func(a, b int) bool { return due[a].CreatedAt.Before(due[b].CreatedAt) })
	if len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *memStore) Claim(ctx context.Context, id string, nextAttempt int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || (j.Status != StatusQueued && j.Status != StatusRetrying) {
		return false, nil
	}
	if j.AttemptCount+1 != nextAttempt || nextAttempt > j.MaxAttempts {
		return false, nil
	}
	now := s.now()
	j.Status = StatusProcessing
	j.AttemptCount = nextAttempt
	j.LastAttemptAt = &now
	j.Error, j.ErrorCode, j.NextRetryAt = "", "", nil
	return true, nil
}

func (s *memStore) Complete(ctx context.Context, id string, c Completion) error {
	return s.transition(id, func(j *Job) bool { return j.Status == StatusProcessing }, func(j *Job) {
		j.Status = StatusPublished
		j.MediaID, j.CreationID, j.Permalink, j.PublishedAt = c.MediaID, c.CreationID, c.Permalink, c.PublishedAt
		j.Error, j.ErrorCode, j.NextRetryAt = "", "", nil
	})
}

func (s *memStore) ScheduleRetry(ctx context.Context, id string, next time.Time, msg, code string) error {
	return s.transition(id, func(j *Job) bool { return j.Status == StatusProcessing }, func(j *Job) {
		j.Status = StatusRetrying
		j.NextRetryAt = &next
		j.Error, j.ErrorCode = msg, code
	})
}

func (s *memStore) Fail(ctx context.Context, id string, msg, code string) error {
	return s.transition(id, func(j *Job) bool { return j.Status != StatusPublished && j.Status != StatusFailed }, func(j *Job) {
		j.Status = StatusFailed
		j.NextRetryAt = nil
		j.Error, j.ErrorCode = msg, code
	})
}

func (s *memStore) Get(ctx context.Context, id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, apperr.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) ListHistory(ctx context.Context, userID, vertical string, limit int) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Job
	for _, j := range s.jobs {
		if j.UserID == userID && (vertical == "" || j.Vertical == vertical) {
			out = append(out, *j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) RecoverStale(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, j := range s.jobs {
		if j.Status != StatusProcessing || j.LastAttemptAt == nil || !j.LastAttemptAt.Before(olderThan) {
			continue
		}
		n++
		j.Error, j.ErrorCode = "processing lease expired", apperr.ReasonStaleProcessing
		if j.AttemptCount >= j.MaxAttempts {
			j.Status = StatusFailed
			j.NextRetryAt = nil
			continue
		}
		now := s.now()
		j.Status = StatusRetrying
		j.NextRetryAt = &now
	}
	return n, nil
}

func (s *memStore) transition(id string, allowed func(*Job) bool, apply func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || !allowed(j) {
		return ErrStateConflict
	}
	apply(j)
	return nil
}

func (s *memStore) put(j Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = &j
}

// scriptedMedia returns the queued errors in order, then succeeds.
type scriptedMedia struct {
	mu         sync.Mutex
	errs       []error
	calls      int32
	detailsErr error
	lastToken  string
}

func (m *scriptedMedia) Publish(ctx context.Context, igUserID, accessToken, imageURL, caption string) (*meta.PublishResult, error) {
	n := atomic.AddInt32(&m.calls, 1)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastToken = accessToken
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return nil, err
	}
	return &meta.PublishResult{CreationID: fmt.Sprintf("creation-%d", n), MediaID: fmt.Sprintf("media-%d", n)}, nil
}

func (m *scriptedMedia) MediaDetails(ctx context.Context, mediaID, accessToken string) (*meta.MediaDetails, error) {
	if m.detailsErr != nil {
		return nil, m.detailsErr
	}
	return &meta.MediaDetails{ID: mediaID, Permalink: "https://instagram.com/p/" + mediaID, Timestamp: "2025-01-01T12:00:05+0000"}, nil
}

func (m *scriptedMedia) Calls() int {
	return int(atomic.LoadInt32(&m.calls))
}

type MockCredentials struct {
	mock.Mock
}

func (m *MockCredentials) GetCredential(ctx context.Context, integrationID string) (*integration.Credential, error) {
	args := m.Called(ctx, integrationID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Credential), args.Error(1)
}

func (m *MockCredentials) GetByUser(ctx context.Context, userID string) (*integration.Credential, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*integration.Credential), args.Error(1)
}

type MockTokens struct {
	mock.Mock
}

func (m *MockTokens) RefreshIfNeeded(ctx context.Context, cred integration.Credential) (integration.Credential, bool, error) {
	args := m.Called(ctx, cred)
	return args.Get(0).(integration.Credential), args.Bool(1), args.Error(2)
}

func (m *MockTokens) SweepExpiring(ctx context.Context, limit int) (integration.RefreshStats, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).(integration.RefreshStats), args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	bodies [][]byte
	err    error
}

func (p *recordingPublisher) Publish(topic string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.bodies = append(p.bodies, body)
	return p.err
}

func testCredential() *integration.Credential {
	return &integration.Credential{IntegrationID: "int-1", UserID: "user-1", AccessToken: "tok", AccountID: "ig-1"}
}

// passthroughTokens returns the credential unchanged.
func passthroughTokens() *MockTokens {
	tokens := new(MockTokens)
	tokens.On("RefreshIfNeeded", mock.Anything, mock.Anything).Return(*testCredential(), false, nil)
	return tokens
}

func connectedCredentials() *MockCredentials {
	creds := new(MockCredentials)
	creds.On("GetCredential", mock.Anything, "int-1").Return(testCredential(), nil)
	creds.On("GetByUser", mock.Anything, "user-1").Return(testCredential(), nil)
	return creds
}

type processorDeps struct {
	store  *memStore
	creds  *MockCredentials
	tokens *MockTokens
	media  *scriptedMedia
	pub    *recordingPublisher
}

func newTestProcessor(d processorDeps, maxAttempts int) *Processor {
	if d.creds == nil {
		d.creds = connectedCredentials()
	}
	if d.tokens == nil {
		d.tokens = passthroughTokens()
	}
	if d.pub == nil {
		d.pub = &recordingPublisher{}
	}
	p := NewProcessor(d.store, d.creds, d.tokens, d.media, d.pub, testPolicy(maxAttempts))
	p.now = func() time.Time { return fixedNow }
	return p
}

func enqueue(t testing.TB, s *memStore, maxAttempts int) string {
	t.Helper()
	id, err := s.Enqueue(context.Background(), NewJob{
		IntegrationID: "int-1",
		UserID:        "user-1",
		Caption:       "hello",
		ImageURL:      "https://cdn.example.com/a.jpg",
		MaxAttempts:   maxAttempts,
	})
	require.NoError(t, err)
	return id
}

var errUpstream503 = errors.New("publish_media: HTTP 503; service unavailable")

func testPolicy(maxAttempts int) retry.Policy {
	return retry.Policy{BaseDelay: 60 * time.Second, MaxDelay: 30 * time.Minute, MaxAttempts: maxAttempts}
}
