package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"crewcommand_backend/internal/domain"
	"crewcommand_backend/internal/followups/repository"
	"crewcommand_backend/internal/messaging"
	"crewcommand_backend/platform/metrics"

	"github.com/google/uuid"
)

// fakeOrchestratorStore keeps leads, sequences and messages in memory and
// mirrors the conditional writes of the Postgres repository.
type fakeOrchestratorStore struct {
	mu        sync.Mutex
	leads     map[uuid.UUID]*repository.LeadState
	orgTZ     map[uuid.UUID]string
	sequences map[uuid.UUID]*fakeSequence // keyed by lead id

	// contention makes the next n MarkEstimateSent calls lose the race.
	contention int
	getCalls   int
}

type fakeSequence struct {
	id       uuid.UUID
	timezone string
	messages map[string]time.Time
}

func newFakeOrchestratorStore() *fakeOrchestratorStore {
	return &fakeOrchestratorStore{
		leads:     map[uuid.UUID]*repository.LeadState{},
		orgTZ:     map[uuid.UUID]string{},
		sequences: map[uuid.UUID]*fakeSequence{},
	}
}

func (f *fakeOrchestratorStore) addLead(org uuid.UUID, status domain.LeadStatus) uuid.UUID {
	id := uuid.New()
	f.leads[id] = &repository.LeadState{ID: id, OrganizationID: org, Status: status, FollowupState: domain.FollowupNone, Version: 1}
	return id
}

func (f *fakeOrchestratorStore) GetLeadState(_ context.Context, org, leadID uuid.UUID) (repository.LeadState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCalls++
	lead, ok := f.leads[leadID]
	if !ok || lead.OrganizationID != org {
		return repository.LeadState{}, repository.ErrLeadNotFound
	}
	return *lead, nil
}

func (f *fakeOrchestratorStore) MarkEstimateSent(_ context.Context, org, leadID uuid.UUID, version int, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	lead := f.leads[leadID]
	if f.contention > 0 {
		f.contention--
		lead.Version++
		return false, nil
	}
	if lead == nil || lead.OrganizationID != org || lead.Version != version {
		return false, nil
	}
	lead.Status = domain.LeadStatusEstimateSent
	lead.FollowupState = domain.FollowupActive
	lead.Version++
	return true, nil
}

func (f *fakeOrchestratorStore) ResolveTimezones(_ context.Context, org, leadID uuid.UUID) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seqTZ := ""
	if s, ok := f.sequences[leadID]; ok {
		seqTZ = s.timezone
	}
	return seqTZ, f.orgTZ[org], nil
}

func (f *fakeOrchestratorStore) UpsertSequence(_ context.Context, in repository.SequenceUpsert) (repository.SequenceResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seq, ok := f.sequences[in.LeadID]
	if !ok {
		seq = &fakeSequence{id: uuid.New(), messages: map[string]time.Time{}}
		f.sequences[in.LeadID] = seq
	}
	seq.timezone = in.Timezone
	for _, e := range in.Entries {
		seq.messages[fmt.Sprintf("%s/%d", e.Channel, e.StepNumber)] = e.SendAt
	}
	var next *time.Time
	for _, at := range seq.messages {
		if next == nil || at.Before(*next) {
			t := at
			next = &t
		}
	}
	return repository.SequenceResult{SequenceID: seq.id, NextSendAt: next}, nil
}

type fakeWake struct {
	runs []time.Time
	err  error
}

func (w *fakeWake) ScheduleDispatch(_ context.Context, at time.Time) error {
	w.runs = append(w.runs, at)
	return w.err
}

// fakeDispatchStore mirrors the status-conditioned writes of the repository.
type fakeDispatchStore struct {
	mu        sync.Mutex
	messages  map[uuid.UUID]*fakeMessage
	dctx      repository.DispatchContext
	refreshed [][]uuid.UUID
	released  []uuid.UUID
	writeErr  map[uuid.UUID]error
	// stolen messages are moved by a concurrent run right after the claim.
	stolen map[uuid.UUID]bool
}

type fakeMessage struct {
	repository.DueMessage
	status     domain.MessageStatus
	errMessage *string
	sentAt     *time.Time
	providerID string
	leaseUntil *time.Time
}

func newFakeDispatchStore() *fakeDispatchStore {
	return &fakeDispatchStore{
		messages: map[uuid.UUID]*fakeMessage{},
		dctx: repository.DispatchContext{
			Sequences:     map[uuid.UUID]repository.Sequence{},
			Leads:         map[uuid.UUID]repository.Lead{},
			Organizations: map[uuid.UUID]repository.Organization{},
			Templates:     map[repository.TemplateRef]repository.Template{},
			Profiles:      map[uuid.UUID]repository.Profile{},
			Owners:        map[uuid.UUID]repository.Profile{},
		},
		writeErr: map[uuid.UUID]error{},
		stolen:   map[uuid.UUID]bool{},
	}
}

func (f *fakeDispatchStore) get(id uuid.UUID) *fakeMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages[id]
}

func (f *fakeDispatchStore) ClaimDue(_ context.Context, now time.Time, limit int, leaseUntil time.Time) ([]repository.DueMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var due []*fakeMessage
	for _, m := range f.messages {
		if m.status != domain.MessageQueued || m.ScheduledAt.After(now) {
			continue
		}
		if m.leaseUntil != nil && m.leaseUntil.After(now) {
			continue
		}
		due = append(due, m)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].ScheduledAt.Before(due[j].ScheduledAt)
		}
		return due[i].ID.String() < due[j].ID.String()
	})
	if len(due) > limit {
		due = due[:limit]
	}
	out := make([]repository.DueMessage, 0, len(due))
	for _, m := range due {
		lease := leaseUntil
		m.leaseUntil = &lease
		out = append(out, m.DueMessage)
		if f.stolen[m.ID] {
			m.status = domain.MessageSent
		}
	}
	return out, nil
}

func (f *fakeDispatchStore) LoadContext(context.Context, []repository.DueMessage) (repository.DispatchContext, error) {
	return f.dctx, nil
}

func (f *fakeDispatchStore) write(id uuid.UUID, fn func(m *fakeMessage)) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.writeErr[id]; err != nil {
		return false, err
	}
	m, ok := f.messages[id]
	if !ok || m.status != domain.MessageQueued {
		return false, nil
	}
	fn(m)
	m.leaseUntil = nil
	return true, nil
}

func (f *fakeDispatchStore) MarkSent(_ context.Context, id uuid.UUID, sentAt time.Time, providerID string) (bool, error) {
	return f.write(id, func(m *fakeMessage) {
		m.status = domain.MessageSent
		m.sentAt = &sentAt
		m.providerID = providerID
		m.errMessage = nil
	})
}

func (f *fakeDispatchStore) Reschedule(_ context.Context, id uuid.UUID, at time.Time, retryCount int, errMessage *string) (bool, error) {
	return f.write(id, func(m *fakeMessage) {
		m.ScheduledAt = at
		m.RetryCount = retryCount
		m.errMessage = errMessage
	})
}

func (f *fakeDispatchStore) MarkFailed(_ context.Context, id uuid.UUID, retryCount int, errMessage string) (bool, error) {
	return f.write(id, func(m *fakeMessage) {
		m.status = domain.MessageFailed
		m.RetryCount = retryCount
		m.errMessage = &errMessage
	})
}

func (f *fakeDispatchStore) ReleaseLease(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := f.messages[id]; ok {
		m.leaseUntil = nil
	}
	f.released = append(f.released, id)
	return nil
}

func (f *fakeDispatchStore) RefreshNextSendAt(ctx context.Context, ids []uuid.UUID) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshed = append(f.refreshed, append([]uuid.UUID(nil), ids...))
	return nil
}

type fakeSender struct {
	mu     sync.Mutex
	sms    []messaging.SMS
	emails []messaging.Email
	err    error
	calls  int
}

func (s *fakeSender) SendSMS(_ context.Context, msg messaging.SMS) (messaging.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return messaging.Result{}, s.err
	}
	s.sms = append(s.sms, msg)
	return messaging.Result{ProviderMessageID: fmt.Sprintf("SM%d", len(s.sms))}, nil
}

func (s *fakeSender) SendEmail(_ context.Context, msg messaging.Email) (messaging.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return messaging.Result{}, s.err
	}
	s.emails = append(s.emails, msg)
	return messaging.Result{}, nil
}

var errProviderDown = errors.New("upstream timeout")

type fakeRecorder struct {
	runs int
	last metrics.DispatchOutcome
}

func (r *fakeRecorder) RecordDispatchRun(out metrics.DispatchOutcome, _ time.Duration) {
	r.runs++
	r.last = out
}
