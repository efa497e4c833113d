package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"crewcommand_backend/internal/domain"
	"crewcommand_backend/internal/followups/repository"
	"crewcommand_backend/internal/followups/transport"
	"crewcommand_backend/internal/messaging"
	"crewcommand_backend/platform/logger"

	"github.com/google/uuid"
)

// 10:00 EST.
var dispatchNow = time.Date(2026, 2, 17, 15, 0, 0, 0, time.UTC)

type dispatchFixture struct {
	store   *fakeDispatchStore
	sender  *fakeSender
	rec     *fakeRecorder
	org     uuid.UUID
	seq     uuid.UUID
	lead    uuid.UUID
	creator uuid.UUID
	now     time.Time
}

func newDispatchFixture() *dispatchFixture {
	f := &dispatchFixture{
		store:   newFakeDispatchStore(),
		sender:  &fakeSender{},
		rec:     &fakeRecorder{},
		org:     uuid.New(),
		seq:     uuid.New(),
		lead:    uuid.New(),
		creator: uuid.New(),
		now:     dispatchNow,
	}
	dctx := f.store.dctx
	dctx.Organizations[f.org] = repository.Organization{ID: f.org, Name: "Ridge Renovations", Timezone: "America/New_York"}
	dctx.Sequences[f.seq] = repository.Sequence{ID: f.seq, OrganizationID: f.org, LeadID: f.lead, State: domain.FollowupActive, Timezone: "America/New_York"}
	dctx.Leads[f.lead] = repository.Lead{
		ID:                 f.lead,
		OrganizationID:     f.org,
		ClientName:         " Dana Whitfield ",
		JobType:            "kitchen remodel",
		PhoneE164:          "+12015550123",
		Email:              "dana@example.com",
		Status:             domain.LeadStatusEstimateSent,
		FollowupState:      domain.FollowupActive,
		CreatedByProfileID: &f.creator,
	}
	dctx.Profiles[f.creator] = repository.Profile{ID: f.creator, OrganizationID: f.org, FullName: "Sam Ortiz", Role: domain.RoleMember}
	dctx.Templates[repository.TemplateRef{OrganizationID: f.org, Key: "day_2_followup"}] = repository.Template{
		OrganizationID: f.org,
		Key:            "day_2_followup",
		SMSBody:        "Hi {client_name}, {contractor_name} here about your {job_type}.",
		EmailSubject:   "Your {job_type} estimate from {business_name}",
		EmailBody:      "Hi {client_name},\n{contractor_name}\n{business_name}",
	}
	return f
}

func (f *dispatchFixture) addMessage(channel domain.Channel, retry int) uuid.UUID {
	id := uuid.New()
	f.store.messages[id] = &fakeMessage{
		DueMessage: repository.DueMessage{
			ID:             id,
			OrganizationID: f.org,
			SequenceID:     f.seq,
			StepNumber:     2,
			Channel:        channel,
			TemplateKey:    "day_2_followup",
			ScheduledAt:    f.now.Add(-time.Minute),
			RetryCount:     retry,
		},
		status: domain.MessageQueued,
	}
	return id
}

func (f *dispatchFixture) dispatcher(sender messaging.Sender) *Dispatcher {
	if sender == nil {
		sender = f.sender
	}
	d := NewDispatcher(f.store, sender, DispatcherConfig{FallbackTZ: "America/New_York"}, logger.Nop(), f.rec)
	d.now = func() time.Time { return f.now }
	return d
}

func TestDispatchSendsRenderedMessages(t *testing.T) {
	f := newDispatchFixture()
	smsID := f.addMessage(domain.ChannelSMS, 0)
	emailID := f.addMessage(domain.ChannelEmail, 0)

	stats, err := f.dispatcher(nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if stats.DueCount != 2 || stats.SentCount != 2 || stats.ProcessedCount != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(f.sender.sms) != 1 || f.sender.sms[0].Body != "Hi Dana Whitfield, Sam Ortiz here about your kitchen remodel." {
		t.Fatalf("unexpected sms %+v", f.sender.sms)
	}
	if f.sender.sms[0].To != "+12015550123" {
		t.Fatalf("sms sent to %q", f.sender.sms[0].To)
	}
	if len(f.sender.emails) != 1 || f.sender.emails[0].Subject != "Your kitchen remodel estimate from Ridge Renovations" {
		t.Fatalf("unexpected email %+v", f.sender.emails)
	}

	sms := f.store.get(smsID)
	if sms.status != domain.MessageSent || sms.providerID != "SM1" || sms.sentAt == nil || sms.leaseUntil != nil {
		t.Fatalf("sms not marked sent: %+v", sms)
	}
	if email := f.store.get(emailID); email.status != domain.MessageSent || email.providerID != "" {
		t.Fatalf("email not marked sent: %+v", email)
	}

	if len(f.store.refreshed) != 1 || len(f.store.refreshed[0]) != 1 || f.store.refreshed[0][0] != f.seq {
		t.Fatalf("next_send_at not refreshed for the sequence: %v", f.store.refreshed)
	}
	if f.rec.runs != 1 || f.rec.last.Sent != 2 {
		t.Fatalf("metrics not recorded: %+v", f.rec)
	}
}

func TestDispatchEmptyBatch(t *testing.T) {
	f := newDispatchFixture()

	stats, err := f.dispatcher(nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stats != (transport.DispatchStats{}) || f.rec.runs != 1 || len(f.store.refreshed) != 0 {
		t.Fatalf("empty run should be a no-op, got %+v", stats)
	}
}

func TestDispatchDefersOutsideSendWindow(t *testing.T) {
	f := newDispatchFixture()
	id := f.addMessage(domain.ChannelSMS, 1)
	// 20:00 EST.
	f.now = time.Date(2026, 2, 18, 1, 0, 0, 0, time.UTC)
	f.store.messages[id].ScheduledAt = f.now.Add(-time.Hour)

	stats, err := f.dispatcher(nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if stats.DeferredCount != 1 || stats.ProcessedCount != 0 || f.sender.calls != 0 {
		t.Fatalf("expected deferral without send, got %+v (calls=%d)", stats, f.sender.calls)
	}
	msg := f.store.get(id)
	want := time.Date(2026, 2, 18, 14, 0, 0, 0, time.UTC)
	if !msg.ScheduledAt.Equal(want) || msg.RetryCount != 1 || msg.errMessage != nil || msg.status != domain.MessageQueued {
		t.Fatalf("deferred message = %+v, want scheduled at %s with retry 1", msg, want)
	}
}

func TestDispatchRetriesThenFails(t *testing.T) {
	f := newDispatchFixture()
	id := f.addMessage(domain.ChannelSMS, 0)
	f.sender.err = errProviderDown
	d := f.dispatcher(nil)

	steps := []struct {
		now       time.Time
		status    domain.MessageStatus
		retry     int
		scheduled time.Time
	}{
		{dispatchNow, domain.MessageQueued, 1, dispatchNow.Add(15 * time.Minute)},
		{dispatchNow.Add(15 * time.Minute), domain.MessageQueued, 2, dispatchNow.Add(75 * time.Minute)},
		{dispatchNow.Add(75 * time.Minute), domain.MessageFailed, 3, dispatchNow.Add(75 * time.Minute)},
	}
	for i, step := range steps {
		f.now = step.now
		if _, err := d.Run(context.Background()); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		msg := f.store.get(id)
		if msg.status != step.status || msg.RetryCount != step.retry || !msg.ScheduledAt.Equal(step.scheduled) {
			t.Fatalf("after run %d: status=%s retry=%d scheduled=%s", i, msg.status, msg.RetryCount, msg.ScheduledAt)
		}
		if msg.errMessage == nil || *msg.errMessage != "upstream timeout" {
			t.Fatalf("after run %d: error message = %v", i, msg.errMessage)
		}
	}
	if f.sender.calls != 3 {
		t.Fatalf("expected 3 provider calls, got %d", f.sender.calls)
	}
	if f.rec.last.Failed != 1 {
		t.Fatalf("last run should count a failure: %+v", f.rec.last)
	}
}

func TestDispatchConfigurationFailuresAreFinal(t *testing.T) {
	cases := []struct {
		name    string
		channel domain.Channel
		mutate  func(f *dispatchFixture)
		sender  messaging.Sender
		want    string
	}{
		{
			name:    "missing template",
			channel: domain.ChannelSMS,
			mutate: func(f *dispatchFixture) {
				delete(f.store.dctx.Templates, repository.TemplateRef{OrganizationID: f.org, Key: "day_2_followup"})
			},
			want: "No active template found for key 'day_2_followup'.",
		},
		{
			name:    "blank sms body",
			channel: domain.ChannelSMS,
			mutate: func(f *dispatchFixture) {
				ref := repository.TemplateRef{OrganizationID: f.org, Key: "day_2_followup"}
				tpl := f.store.dctx.Templates[ref]
				tpl.SMSBody = "  "
				f.store.dctx.Templates[ref] = tpl
			},
			want: "Template 'day_2_followup' does not have sms_body.",
		},
		{
			name:    "missing email subject",
			channel: domain.ChannelEmail,
			mutate: func(f *dispatchFixture) {
				ref := repository.TemplateRef{OrganizationID: f.org, Key: "day_2_followup"}
				tpl := f.store.dctx.Templates[ref]
				tpl.EmailSubject = ""
				f.store.dctx.Templates[ref] = tpl
			},
			want: "Template 'day_2_followup' does not have email subject/body.",
		},
		{
			name:    "missing phone",
			channel: domain.ChannelSMS,
			mutate: func(f *dispatchFixture) {
				lead := f.store.dctx.Leads[f.lead]
				lead.PhoneE164 = ""
				f.store.dctx.Leads[f.lead] = lead
			},
			want: "Lead is missing phone_e164 for SMS delivery.",
		},
		{
			name:    "missing email",
			channel: domain.ChannelEmail,
			mutate: func(f *dispatchFixture) {
				lead := f.store.dctx.Leads[f.lead]
				lead.Email = " "
				f.store.dctx.Leads[f.lead] = lead
			},
			want: "Lead is missing email for email delivery.",
		},
		{
			name:    "provider not configured",
			channel: domain.ChannelSMS,
			sender:  messaging.Composite{Email: &fakeSender{}},
			want:    "sms provider is not configured.",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newDispatchFixture()
			id := f.addMessage(tc.channel, 0)
			if tc.mutate != nil {
				tc.mutate(f)
			}

			stats, err := f.dispatcher(tc.sender).Run(context.Background())
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if stats.FailedCount != 1 || stats.ProcessedCount != 1 {
				t.Fatalf("unexpected stats %+v", stats)
			}
			msg := f.store.get(id)
			if msg.status != domain.MessageFailed || msg.RetryCount != domain.MaxSendAttempts {
				t.Fatalf("expected final failure, got status=%s retry=%d", msg.status, msg.RetryCount)
			}
			if msg.errMessage == nil || *msg.errMessage != tc.want {
				t.Fatalf("error message = %v, want %q", msg.errMessage, tc.want)
			}
			if f.sender.calls != 0 {
				t.Fatal("configuration failures must not reach the provider")
			}
		})
	}
}

func TestDispatchSkipsInactiveWork(t *testing.T) {
	f := newDispatchFixture()

	pausedSeq := uuid.New()
	pausedLead := uuid.New()
	f.store.dctx.Sequences[pausedSeq] = repository.Sequence{ID: pausedSeq, OrganizationID: f.org, LeadID: pausedLead, State: domain.FollowupPaused}
	f.store.dctx.Leads[pausedLead] = repository.Lead{ID: pausedLead, OrganizationID: f.org, Status: domain.LeadStatusEstimateSent, FollowupState: domain.FollowupPaused}

	wonSeq := uuid.New()
	wonLead := uuid.New()
	f.store.dctx.Sequences[wonSeq] = repository.Sequence{ID: wonSeq, OrganizationID: f.org, LeadID: wonLead, State: domain.FollowupActive}
	f.store.dctx.Leads[wonLead] = repository.Lead{ID: wonLead, OrganizationID: f.org, Status: domain.LeadStatusWon, FollowupState: domain.FollowupActive}

	paused := f.addMessage(domain.ChannelSMS, 0)
	f.store.messages[paused].SequenceID = pausedSeq
	won := f.addMessage(domain.ChannelSMS, 0)
	f.store.messages[won].SequenceID = wonSeq
	stolen := f.addMessage(domain.ChannelSMS, 0)
	f.store.stolen[stolen] = true

	stats, err := f.dispatcher(nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if stats.SkippedCount != 3 || stats.ProcessedCount != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	for _, id := range []uuid.UUID{paused, won} {
		msg := f.store.get(id)
		if msg.status != domain.MessageQueued || msg.leaseUntil != nil {
			t.Fatalf("skipped message %s should stay queued with its lease released: %+v", id, msg)
		}
	}
	if len(f.store.released) != 2 {
		t.Fatalf("expected two released leases, got %v", f.store.released)
	}
	if got := f.store.get(stolen); got.providerID != "" {
		t.Fatalf("message finalized by another run was overwritten: %+v", got)
	}
}

func TestDispatchStoreErrorsDoNotAbortBatch(t *testing.T) {
	f := newDispatchFixture()
	broken := f.addMessage(domain.ChannelSMS, 0)
	ok := f.addMessage(domain.ChannelEmail, 0)
	f.store.writeErr[broken] = errors.New("connection reset")

	stats, err := f.dispatcher(nil).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if stats.ErroredCount != 1 || stats.SentCount != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if f.store.get(ok).status != domain.MessageSent {
		t.Fatal("healthy message should still be sent")
	}
	if f.store.get(broken).status != domain.MessageQueued {
		t.Fatal("message with a failed write must stay queued")
	}
	if f.rec.last.Errored != 1 {
		t.Fatalf("errored count not recorded: %+v", f.rec.last)
	}
}

func TestDispatchContractorNameFallbacks(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(f *dispatchFixture)
		want   string
	}{
		{
			name: "creator profile",
			want: "Sam Ortiz",
		},
		{
			name: "creator from another organization falls back to owner",
			mutate: func(f *dispatchFixture) {
				p := f.store.dctx.Profiles[f.creator]
				p.OrganizationID = uuid.New()
				f.store.dctx.Profiles[f.creator] = p
				f.store.dctx.Owners[f.org] = repository.Profile{ID: uuid.New(), OrganizationID: f.org, FullName: "Jordan Reyes", Role: domain.RoleOwner}
			},
			want: "Jordan Reyes",
		},
		{
			name: "organization name",
			mutate: func(f *dispatchFixture) {
				delete(f.store.dctx.Profiles, f.creator)
			},
			want: "Ridge Renovations",
		},
		{
			name: "brand",
			mutate: func(f *dispatchFixture) {
				delete(f.store.dctx.Profiles, f.creator)
				org := f.store.dctx.Organizations[f.org]
				org.Name = ""
				f.store.dctx.Organizations[f.org] = org
			},
			want: DefaultBrandName,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newDispatchFixture()
			ref := repository.TemplateRef{OrganizationID: f.org, Key: "day_2_followup"}
			tpl := f.store.dctx.Templates[ref]
			tpl.SMSBody = "{contractor_name}|{business_name}"
			f.store.dctx.Templates[ref] = tpl
			if tc.mutate != nil {
				tc.mutate(f)
			}
			f.addMessage(domain.ChannelSMS, 0)

			if _, err := f.dispatcher(nil).Run(context.Background()); err != nil {
				t.Fatalf("run: %v", err)
			}
			if len(f.sender.sms) != 1 {
				t.Fatalf("expected one sms, got %d", len(f.sender.sms))
			}

			business := "Ridge Renovations"
			if tc.want == DefaultBrandName {
				business = DefaultBrandName
			}
			if got, want := f.sender.sms[0].Body, tc.want+"|"+business; got != want {
				t.Fatalf("body = %q, want %q", got, want)
			}
		})
	}
}

type cancelingSender struct {
	*fakeSender
	cancel context.CancelFunc
}

func (s cancelingSender) SendSMS(ctx context.Context, msg messaging.SMS) (messaging.Result, error) {
	s.cancel()
	return s.fakeSender.SendSMS(ctx, msg)
}

func TestDispatchRefreshesAfterCancellation(t *testing.T) {
	f := newDispatchFixture()
	first := f.addMessage(domain.ChannelSMS, 0)
	second := f.addMessage(domain.ChannelEmail, 0)
	f.store.messages[second].ScheduledAt = f.now

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stats, err := f.dispatcher(cancelingSender{fakeSender: f.sender, cancel: cancel}).Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if stats.DueCount != 2 || stats.SentCount != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if f.store.get(first).status != domain.MessageSent {
		t.Fatal("message handled before cancellation must be committed")
	}
	if f.store.get(second).status != domain.MessageQueued {
		t.Fatal("message after cancellation must stay queued")
	}
	if len(f.store.refreshed) != 1 {
		t.Fatal("next_send_at must be refreshed after cancellation")
	}
}
