package application_test

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ericfisherdev/moodlink/internal/domain/model"
)

// --- Credential store ---

type memCredentialStore struct {
	mu      sync.Mutex
	records map[string]model.CredentialRecord
	nextID  int64
	err     error
}

func newMemCredentialStore() *memCredentialStore {
	return &memCredentialStore{records: make(map[string]model.CredentialRecord)}
}

func (s *memCredentialStore) Upsert(_ context.Context, userID, username, contact, secret string) (*model.CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if userID == "" || username == "" || contact == "" || secret == "" {
		return nil, model.ValidationError("all credential fields are required")
	}

	now := time.Now().UTC()
	rec, ok := s.records[userID]
	if !ok {
		s.nextID++
		rec = model.CredentialRecord{ID: s.nextID, UserID: userID, CreatedAt: now}
	}
	rec.Username = username
	rec.Contact = contact
	rec.Secret = secret
	rec.UpdatedAt = now
	s.records[userID] = rec
	return &rec, nil
}

func (s *memCredentialStore) Get(_ context.Context, userID string) (*model.CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	rec, ok := s.records[userID]
	if !ok {
		return nil, model.NotFoundError("no credential for user %q", userID)
	}
	return &rec, nil
}

func (s *memCredentialStore) MarkValidity(_ context.Context, userID string, valid bool) (*model.CredentialRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	rec, ok := s.records[userID]
	if !ok {
		return nil, model.NotFoundError("no credential for user %q", userID)
	}
	now := time.Now().UTC()
	rec.SessionValid = valid
	rec.LastValidatedAt = &now
	rec.UpdatedAt = now
	s.records[userID] = rec
	return &rec, nil
}

func (s *memCredentialStore) Delete(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	_, ok := s.records[userID]
	delete(s.records, userID)
	return ok, nil
}

func (s *memCredentialStore) valid(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[userID].SessionValid
}

// --- Account provider ---

type fakeAccountProvider struct {
	mu         sync.Mutex
	probeErr   error
	loginErr   error
	boards     []model.Collection
	boardsErr  error
	feed       func(cursor string) (model.ItemPage, error)
	probes     int
	logins     int
	feedCalls  int
	forgotten  []string
	loginDelay time.Duration
	// healOnLogin makes a successful login clear probeErr.
	healOnLogin bool
}

func (p *fakeAccountProvider) Login(_ context.Context, _ model.CredentialRecord) error {
	if p.loginDelay > 0 {
		time.Sleep(p.loginDelay)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logins++
	if p.loginErr == nil && p.healOnLogin {
		p.probeErr = nil
	}
	return p.loginErr
}

func (p *fakeAccountProvider) Probe(_ context.Context, _ string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probes++
	return p.probeErr
}

func (p *fakeAccountProvider) ListBoards(_ context.Context, _, _ string) ([]model.Collection, error) {
	return p.boards, p.boardsErr
}

func (p *fakeAccountProvider) BoardFeedPage(_ context.Context, _, _, cursor string) (model.ItemPage, error) {
	p.mu.Lock()
	p.feedCalls++
	p.mu.Unlock()
	return p.feed(cursor)
}

func (p *fakeAccountProvider) Forget(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forgotten = append(p.forgotten, userID)
}

func (p *fakeAccountProvider) setProbeErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.probeErr = err
}

func (p *fakeAccountProvider) setLoginErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.loginErr = err
}

func (p *fakeAccountProvider) counts() (probes, logins int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.probes, p.logins
}

// --- Staging and editor ---

type fakeStaging struct {
	puts []string
	data map[string][]byte
	err  error
}

func (s *fakeStaging) Put(_ context.Context, filename string, data []byte) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	if s.data == nil {
		s.data = make(map[string][]byte)
	}
	s.puts = append(s.puts, filename)
	s.data[filename] = data
	return "uploads/" + filename, nil
}

type fakeEditor struct {
	uploads     int
	uploadErr   error
	uploadURL   string
	jobs        []model.EditJob
	progress    []model.ProgressEvent
	output      *model.EditOutput
	editErr     error
	waitForDone bool
	// deadline is how much time the last Edit call had left.
	deadline time.Duration
}

func (e *fakeEditor) Upload(_ context.Context, _ []byte, _, _ string) (string, error) {
	e.uploads++
	if e.uploadErr != nil {
		return "", e.uploadErr
	}
	return e.uploadURL, nil
}

func (e *fakeEditor) Edit(ctx context.Context, job model.EditJob, onProgress func(model.ProgressEvent)) (*model.EditOutput, error) {
	e.jobs = append(e.jobs, job)
	if d, ok := ctx.Deadline(); ok {
		e.deadline = time.Until(d)
	}
	for _, ev := range e.progress {
		onProgress(ev)
	}
	if e.waitForDone {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if e.editErr != nil {
		return nil, e.editErr
	}
	return e.output, nil
}

// --- Telemetry ---

type recordingTelemetry struct {
	mu          sync.Mutex
	transitions [][2]model.SessionState
	outcomes    []string
	dropped     int
	relogins    []bool
}

func (r *recordingTelemetry) SessionTransition(from, to model.SessionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, [2]model.SessionState{from, to})
}

func (r *recordingTelemetry) ProbeCompleted(model.ProbeResult) {}

func (r *recordingTelemetry) ReloginCompleted(ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relogins = append(r.relogins, ok)
}

func (r *recordingTelemetry) EditCompleted(outcome string, _ model.EditStage, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recordingTelemetry) ProgressDropped() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dropped++
}

var errUnauthorized = errors.New("401 unauthorized")
