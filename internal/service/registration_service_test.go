package service

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/subject-registration-api/internal/models"
	"github.com/noah-isme/subject-registration-api/internal/repository"
	appErrors "github.com/noah-isme/subject-registration-api/pkg/errors"
)

type registrationKey struct {
	userID    string
	subjectID string
}

// memRegistrationStore serialises transactions and applies their writes only
// when the callback succeeds.
type memRegistrationStore struct {
	mu            sync.Mutex
	subjects      map[string]models.Subject
	registrations map[registrationKey]bool
	failUpdate    error
}

func newMemRegistrationStore(subjects ...models.Subject) *memRegistrationStore {
	store := &memRegistrationStore{subjects: map[string]models.Subject{}, registrations: map[registrationKey]bool{}}
	for _, s := range subjects {
		store.subjects[s.ID] = s
	}
	return store
}

func (m *memRegistrationStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx repository.RegistrationTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memRegistrationTx{store: m, subjects: map[string]models.Subject{}, registrations: map[registrationKey]bool{}}
	for k, v := range m.subjects {
		tx.subjects[k] = v
	}
	for k, v := range m.registrations {
		tx.registrations[k] = v
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	m.subjects = tx.subjects
	m.registrations = tx.registrations
	return nil
}

func (m *memRegistrationStore) subject(id string) models.Subject {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subjects[id]
}

func (m *memRegistrationStore) registered(userID, subjectID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registrations[registrationKey{userID, subjectID}]
}

type memRegistrationTx struct {
	store         *memRegistrationStore
	subjects      map[string]models.Subject
	registrations map[registrationKey]bool
}

func (t *memRegistrationTx) LockSubject(ctx context.Context, subjectID string) (*models.Subject, error) {
	s, ok := t.subjects[subjectID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return &s, nil
}

func (t *memRegistrationTx) InsertRegistration(ctx context.Context, r *models.Registration) error {
	key := registrationKey{r.UserID, r.SubjectID}
	if t.registrations[key] {
		return repository.ErrDuplicateRegistration
	}
	t.registrations[key] = true
	return nil
}

func (t *memRegistrationTx) DeleteRegistration(ctx context.Context, userID, subjectID string) (bool, error) {
	key := registrationKey{userID, subjectID}
	if !t.registrations[key] {
		return false, nil
	}
	delete(t.registrations, key)
	return true, nil
}

func (t *memRegistrationTx) UpdateSubjectSeats(ctx context.Context, subjectID string, remaining int, open bool) error {
	if t.store.failUpdate != nil {
		return t.store.failUpdate
	}
	s := t.subjects[subjectID]
	s.RemainingCapacity = remaining
	s.OpenForRegistration = open
	t.subjects[subjectID] = s
	return nil
}

func (t *memRegistrationTx) UpdateSubject(ctx context.Context, subject *models.Subject) error {
	if _, ok := t.subjects[subject.ID]; !ok {
		return sql.ErrNoRows
	}
	t.subjects[subject.ID] = *subject
	return nil
}

type recordingAudit struct {
	mu   sync.Mutex
	logs []*models.AuditLog
}

func (r *recordingAudit) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, log)
	return nil
}

func newSubject(code string, capacity int, open bool) models.Subject {
	return models.Subject{
		ID:                  uuid.NewString(),
		Code:                code,
		Name:                code + " course",
		Term:                models.TermFirstSemester,
		AcademicYear:        "2024/2025",
		RemainingCapacity:   capacity,
		OpenForRegistration: open,
	}
}

func student(id string) models.Identity {
	return models.Identity{UserID: id, Username: id, Role: models.RoleStudent}
}

func newRegistrationService(store *memRegistrationStore, cfg RegistrationServiceConfig) (*RegistrationService, *recordingAudit, *MetricsService) {
	audit := &recordingAudit{}
	metrics := NewMetricsService()
	return NewRegistrationService(store, audit, nil, metrics, zap.NewNop(), cfg), audit, metrics
}

func TestRegisterUnregisterScenario(t *testing.T) {
	cn101 := newSubject("CN101", 2, true)
	store := newMemRegistrationStore(cn101)
	svc, audit, metrics := newRegistrationService(store, RegistrationServiceConfig{})
	ctx := context.Background()

	res, err := svc.Register(ctx, student("u1"), cn101.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRegistered, res.Outcome)
	assert.Equal(t, 1, res.Subject.RemainingCapacity)
	assert.True(t, res.Subject.OpenForRegistration)

	res, err = svc.Register(ctx, student("u2"), cn101.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRegistered, res.Outcome)
	assert.Equal(t, 0, res.Subject.RemainingCapacity)
	assert.False(t, res.Subject.OpenForRegistration)

	res, err = svc.Register(ctx, student("u3"), cn101.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeSubjectFull, res.Outcome)
	assert.False(t, store.registered("u3", cn101.ID))
	assert.Equal(t, 0, store.subject(cn101.ID).RemainingCapacity)

	res, err = svc.Unregister(ctx, student("u1"), cn101.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeUnregistered, res.Outcome)
	assert.Equal(t, 1, res.Subject.RemainingCapacity)
	assert.True(t, res.Subject.OpenForRegistration)

	res, err = svc.Register(ctx, student("u3"), cn101.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRegistered, res.Outcome)

	final := store.subject(cn101.ID)
	assert.Equal(t, 0, final.RemainingCapacity)
	assert.False(t, final.OpenForRegistration)
	assert.NoError(t, final.CheckInvariant())
	assert.True(t, store.registered("u2", cn101.ID))
	assert.True(t, store.registered("u3", cn101.ID))
	assert.False(t, store.registered("u1", cn101.ID))

	assert.Len(t, audit.logs, 4)
	snapshot := metrics.Snapshot()
	assert.Equal(t, uint64(3), snapshot.RegistrationOutcomes["register:REGISTERED"])
	assert.Equal(t, uint64(1), snapshot.RegistrationOutcomes["register:SUBJECT_FULL"])
}

func TestRegisterLastSeatClosesAndUnregisterReopens(t *testing.T) {
	type step struct {
		user       string
		unregister bool
		outcome    models.RegistrationOutcome
		remaining  int
		open       bool
	}
	cases := []struct {
		name     string
		capacity int
		steps    []step
	}{
		{
			name:     "single seat",
			capacity: 1,
			steps: []step{
				{user: "A", outcome: models.OutcomeRegistered, remaining: 0, open: false},
				{user: "B", outcome: models.OutcomeSubjectFull, remaining: 0, open: false},
				{user: "A", unregister: true, outcome: models.OutcomeUnregistered, remaining: 1, open: true},
				{user: "B", outcome: models.OutcomeRegistered, remaining: 0, open: false},
			},
		},
		{
			name:     "two seats",
			capacity: 2,
			steps: []step{
				{user: "A", outcome: models.OutcomeRegistered, remaining: 1, open: true},
				{user: "B", outcome: models.OutcomeRegistered, remaining: 0, open: false},
				{user: "C", outcome: models.OutcomeSubjectFull, remaining: 0, open: false},
				{user: "B", unregister: true, outcome: models.OutcomeUnregistered, remaining: 1, open: true},
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cn101 := newSubject("CN101", tc.capacity, true)
			store := newMemRegistrationStore(cn101)
			svc, _, _ := newRegistrationService(store, RegistrationServiceConfig{})

			for i, st := range tc.steps {
				var (
					res *models.RegistrationResult
					err error
				)
				if st.unregister {
					res, err = svc.Unregister(context.Background(), student(st.user), cn101.ID)
				} else {
					res, err = svc.Register(context.Background(), student(st.user), cn101.ID)
				}
				require.NoError(t, err, "step %d", i)
				assert.Equal(t, st.outcome, res.Outcome, "step %d", i)

				stored := store.subject(cn101.ID)
				assert.Equal(t, st.remaining, stored.RemainingCapacity, "step %d", i)
				assert.Equal(t, st.open, stored.OpenForRegistration, "step %d", i)
				assert.NoError(t, stored.CheckInvariant())
			}
		})
	}
}

func TestRegisterClosedSubjectIsNoOp(t *testing.T) {
	closed := newSubject("MA201", 5, false)
	store := newMemRegistrationStore(closed)
	svc, audit, _ := newRegistrationService(store, RegistrationServiceConfig{})

	res, err := svc.Register(context.Background(), student("u1"), closed.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeRegistrationClosed, res.Outcome)
	assert.Equal(t, 5, store.subject(closed.ID).RemainingCapacity)
	assert.False(t, store.registered("u1", closed.ID))
	assert.Empty(t, audit.logs)
}

func TestRegisterRejectWhenFull(t *testing.T) {
	full := newSubject("PH100", 0, false)
	closed := newSubject("PH200", 3, false)
	store := newMemRegistrationStore(full, closed)
	svc, _, _ := newRegistrationService(store, RegistrationServiceConfig{RejectWhenFull: true})

	_, err := svc.Register(context.Background(), student("u1"), full.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrCapacityExceeded.Code, appErrors.FromError(err).Code)

	_, err = svc.Register(context.Background(), student("u1"), closed.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrRegistrationClosed.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 3, store.subject(closed.ID).RemainingCapacity)
}

func TestRegisterDuplicateDoesNotDecrement(t *testing.T) {
	subject := newSubject("CS101", 3, true)
	store := newMemRegistrationStore(subject)
	svc, _, _ := newRegistrationService(store, RegistrationServiceConfig{})
	ctx := context.Background()

	_, err := svc.Register(ctx, student("u1"), subject.ID)
	require.NoError(t, err)

	_, err = svc.Register(ctx, student("u1"), subject.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrDuplicateRegistration.Code, appErrors.FromError(err).Code)
	assert.Equal(t, 2, store.subject(subject.ID).RemainingCapacity)
}

func TestUnregisterWithoutRegistrationIsNoOp(t *testing.T) {
	full := newSubject("EE300", 0, false)
	store := newMemRegistrationStore(full)
	svc, audit, _ := newRegistrationService(store, RegistrationServiceConfig{})

	res, err := svc.Unregister(context.Background(), student("u9"), full.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OutcomeNotRegistered, res.Outcome)

	after := store.subject(full.ID)
	assert.Equal(t, 0, after.RemainingCapacity)
	assert.False(t, after.OpenForRegistration)
	assert.Empty(t, audit.logs)
}

func TestUnregisterReopensManuallyClosedSubject(t *testing.T) {
	subject := newSubject("BI110", 2, true)
	store := newMemRegistrationStore(subject)
	svc, _, _ := newRegistrationService(store, RegistrationServiceConfig{})
	ctx := context.Background()

	_, err := svc.Register(ctx, student("u1"), subject.ID)
	require.NoError(t, err)

	store.mu.Lock()
	s := store.subjects[subject.ID]
	s.OpenForRegistration = false
	store.subjects[subject.ID] = s
	store.mu.Unlock()

	res, err := svc.Unregister(ctx, student("u1"), subject.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Subject.RemainingCapacity)
	assert.True(t, res.Subject.OpenForRegistration)
}

func TestRegisterUnknownSubject(t *testing.T) {
	store := newMemRegistrationStore()
	svc, _, _ := newRegistrationService(store, RegistrationServiceConfig{})

	_, err := svc.Register(context.Background(), student("u1"), uuid.NewString())
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.Unregister(context.Background(), student("u1"), "not-a-uuid")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.Register(context.Background(), models.Identity{}, uuid.NewString())
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestRegisterStorageFailureRollsBack(t *testing.T) {
	subject := newSubject("CH150", 4, true)
	store := newMemRegistrationStore(subject)
	store.failUpdate = errors.New("connection reset")
	svc, _, _ := newRegistrationService(store, RegistrationServiceConfig{})

	_, err := svc.Register(context.Background(), student("u1"), subject.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)
	assert.False(t, store.registered("u1", subject.ID))
	assert.Equal(t, 4, store.subject(subject.ID).RemainingCapacity)
}

func TestConcurrentRegistrationsNeverOversell(t *testing.T) {
	const capacity = 10
	const students = 50

	subject := newSubject("CN200", capacity, true)
	store := newMemRegistrationStore(subject)
	svc, _, _ := newRegistrationService(store, RegistrationServiceConfig{})

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		outcomes = map[models.RegistrationOutcome]int{}
	)
	for i := 0; i < students; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.Register(context.Background(), student(uuid.NewString()), subject.ID)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			outcomes[res.Outcome]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, capacity, outcomes[models.OutcomeRegistered])
	assert.Equal(t, students-capacity, outcomes[models.OutcomeSubjectFull])

	final := store.subject(subject.ID)
	assert.Equal(t, 0, final.RemainingCapacity)
	assert.False(t, final.OpenForRegistration)
	assert.Len(t, store.registrations, capacity)
}
