package service

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	gosync "sync"

	"crewcommand_backend/internal/domain"
	"crewcommand_backend/internal/sync/entity"
	"crewcommand_backend/internal/sync/repository"

	"github.com/google/uuid"
)

type fakeEntity struct {
	tenant  uuid.UUID
	version int
	deleted bool
	fields  map[string]interface{}
}

type fakeLedgerRow struct {
	entityID *uuid.UUID
	status   string
	reason   string
}

type fakeFeedRow struct {
	tenant uuid.UUID
	row    repository.FeedRow
}

type sequenceEffect struct {
	id    uuid.UUID
	state domain.FollowupState
}

type fakeRepo struct {
	mu       gosync.Mutex
	devices  map[uuid.UUID]uuid.UUID
	entities map[entity.Kind]map[uuid.UUID]*fakeEntity
	ledger   map[string]fakeLedgerRow
	effects  []sequenceEffect
	inserts  int
	feed     []fakeFeedRow

	lockErr   error
	insertErr error
}

var _ repository.Repository = (*fakeRepo)(nil)

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		devices:  map[uuid.UUID]uuid.UUID{},
		entities: map[entity.Kind]map[uuid.UUID]*fakeEntity{},
		ledger:   map[string]fakeLedgerRow{},
	}
}

func ledgerKey(tenant, clientID uuid.UUID) string {
	return tenant.String() + "/" + clientID.String()
}

func (r *fakeRepo) seed(kind entity.Kind, tenant, id uuid.UUID, version int, fields map[string]interface{}) {
	if r.entities[kind] == nil {
		r.entities[kind] = map[uuid.UUID]*fakeEntity{}
	}
	r.entities[kind][id] = &fakeEntity{tenant: tenant, version: version, fields: fields}
}

func (r *fakeRepo) get(kind entity.Kind, id uuid.UUID) *fakeEntity {
	return r.entities[kind][id]
}

func (r *fakeRepo) DeviceRegistered(_ context.Context, tenant, device uuid.UUID) (bool, error) {
	owner, ok := r.devices[device]
	return ok && owner == tenant, nil
}

// WithMutation restores the previous state when fn fails, like a rollback.
func (r *fakeRepo) WithMutation(_ context.Context, fn func(store repository.MutationStore) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	saved := r.snapshot()
	if err := fn(&fakeTx{r: r}); err != nil {
		r.restore(saved)
		return err
	}
	return nil
}

type fakeState struct {
	entities map[entity.Kind]map[uuid.UUID]*fakeEntity
	ledger   map[string]fakeLedgerRow
	effects  []sequenceEffect
	inserts  int
}

func (r *fakeRepo) snapshot() fakeState {
	s := fakeState{
		entities: map[entity.Kind]map[uuid.UUID]*fakeEntity{},
		ledger:   map[string]fakeLedgerRow{},
		effects:  append([]sequenceEffect(nil), r.effects...),
		inserts:  r.inserts,
	}
	for kind, rows := range r.entities {
		s.entities[kind] = map[uuid.UUID]*fakeEntity{}
		for id, e := range rows {
			fields := make(map[string]interface{}, len(e.fields))
			for k, v := range e.fields {
				fields[k] = v
			}
			s.entities[kind][id] = &fakeEntity{tenant: e.tenant, version: e.version, deleted: e.deleted, fields: fields}
		}
	}
	for k, v := range r.ledger {
		s.ledger[k] = v
	}
	return s
}

func (r *fakeRepo) restore(s fakeState) {
	r.entities = s.entities
	r.ledger = s.ledger
	r.effects = s.effects
	r.inserts = s.inserts
}

func (r *fakeRepo) addFeed(tenant uuid.UUID, row repository.FeedRow) {
	r.feed = append(r.feed, fakeFeedRow{tenant: tenant, row: row})
}

func (r *fakeRepo) FeedPage(_ context.Context, kind entity.FeedKind, tenant uuid.UUID, cursor repository.FeedCursor, limit int) ([]repository.FeedRow, error) {
	var rows []repository.FeedRow
	for _, f := range r.feed {
		if f.tenant != tenant || f.row.EntityType != kind.Type {
			continue
		}
		if !afterCursor(f.row, kind, cursor) {
			continue
		}
		rows = append(rows, f.row)
	}
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CursorAt.Equal(rows[j].CursorAt) {
			return rows[i].CursorAt.Before(rows[j].CursorAt)
		}
		return bytes.Compare(rows[i].EntityID[:], rows[j].EntityID[:]) < 0
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

// afterCursor mirrors the SQL predicate of the Postgres feed query.
func afterCursor(row repository.FeedRow, kind entity.FeedKind, c repository.FeedCursor) bool {
	if c.At == nil {
		return true
	}
	if row.CursorAt.After(*c.At) {
		return true
	}
	if !c.Composite || !row.CursorAt.Equal(*c.At) {
		return false
	}
	cmp := bytes.Compare(row.EntityID[:], c.EntityID[:])
	return cmp > 0 || (cmp == 0 && kind.Type > c.EntityType)
}

type fakeTx struct {
	r *fakeRepo
}

func (t *fakeTx) ClaimMutation(_ context.Context, e repository.LedgerEntry) (bool, error) {
	key := ledgerKey(e.OrganizationID, e.ClientMutationID)
	if _, ok := t.r.ledger[key]; ok {
		return false, nil
	}
	t.r.ledger[key] = fakeLedgerRow{entityID: e.EntityID, status: "applied"}
	return true, nil
}

func (t *fakeTx) MarkConflict(_ context.Context, tenant, clientID uuid.UUID, reason string) error {
	key := ledgerKey(tenant, clientID)
	row := t.r.ledger[key]
	row.status = "conflict"
	row.reason = reason
	t.r.ledger[key] = row
	return nil
}

func (t *fakeTx) LockEntity(_ context.Context, spec entity.Spec, tenant, id uuid.UUID) (repository.Snapshot, error) {
	if t.r.lockErr != nil {
		return repository.Snapshot{}, t.r.lockErr
	}
	e := t.r.get(spec.Kind, id)
	if e == nil || e.tenant != tenant || (spec.SoftDelete && e.deleted) {
		return repository.Snapshot{}, repository.ErrEntityNotFound
	}
	snap := repository.Snapshot{Guards: map[string]string{}}
	if spec.Versioned {
		snap.Version = e.version
	}
	for _, col := range spec.GuardColumns {
		if v, ok := e.fields[col]; ok {
			snap.Guards[col] = fmt.Sprint(v)
		}
	}
	return snap, nil
}

func (t *fakeTx) InsertEntity(_ context.Context, spec entity.Spec, tenant, id uuid.UUID, values entity.Values) error {
	if t.r.insertErr != nil {
		return t.r.insertErr
	}
	if e := t.r.get(spec.Kind, id); e != nil {
		if e.tenant != tenant {
			return repository.ErrEntityIDUnavailable
		}
		return repository.ErrDuplicateEntity
	}
	fields := map[string]interface{}{}
	for k, v := range values {
		fields[k] = v
	}
	t.r.seed(spec.Kind, tenant, id, 1, fields)
	t.r.inserts++
	return nil
}

func (t *fakeTx) UpdateEntity(_ context.Context, spec entity.Spec, tenant, id uuid.UUID, version int, values entity.Values) (bool, error) {
	e := t.r.get(spec.Kind, id)
	if e == nil || e.tenant != tenant || e.deleted {
		return false, nil
	}
	if spec.Versioned && e.version != version {
		return false, nil
	}
	for k, v := range values {
		e.fields[k] = v
	}
	if spec.Versioned {
		e.version++
	}
	return true, nil
}

func (t *fakeTx) SoftDeleteEntity(_ context.Context, spec entity.Spec, tenant, id uuid.UUID, version int) (bool, error) {
	e := t.r.get(spec.Kind, id)
	if e == nil || e.tenant != tenant || e.deleted || e.version != version {
		return false, nil
	}
	e.deleted = true
	e.version++
	return true, nil
}

func (t *fakeTx) ApplySequenceState(_ context.Context, _ uuid.UUID, id uuid.UUID, state domain.FollowupState) error {
	t.r.effects = append(t.r.effects, sequenceEffect{id: id, state: state})
	return nil
}
