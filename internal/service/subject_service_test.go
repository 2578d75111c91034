package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/subject-registration-api/internal/models"
	appErrors "github.com/noah-isme/subject-registration-api/pkg/errors"
)

type fakeSubjectRepo struct {
	subjects   map[string]*models.Subject
	lastFilter models.SubjectFilter
	listCalls  int
	afterList  func()
}

func newFakeSubjectRepo(subjects ...models.Subject) *fakeSubjectRepo {
	repo := &fakeSubjectRepo{subjects: map[string]*models.Subject{}}
	for i := range subjects {
		s := subjects[i]
		repo.subjects[s.ID] = &s
	}
	return repo
}

func (f *fakeSubjectRepo) List(ctx context.Context, filter models.SubjectFilter) ([]models.Subject, int, error) {
	f.lastFilter = filter
	subjects, _ := f.ListAll(ctx)
	return subjects, len(subjects), nil
}

func (f *fakeSubjectRepo) ListAll(ctx context.Context) ([]models.Subject, error) {
	f.listCalls++
	var out []models.Subject
	for _, s := range f.subjects {
		out = append(out, *s)
	}
	if f.afterList != nil {
		f.afterList()
	}
	return out, nil
}

func (f *fakeSubjectRepo) FindByID(ctx context.Context, id string) (*models.Subject, error) {
	s, ok := f.subjects[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSubjectRepo) ExistsByCode(ctx context.Context, code string, excludeID string) (bool, error) {
	for _, s := range f.subjects {
		if s.Code == code && s.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSubjectRepo) Create(ctx context.Context, subject *models.Subject) error {
	if subject.ID == "" {
		subject.ID = uuid.NewString()
	}
	cp := *subject
	f.subjects[subject.ID] = &cp
	return nil
}

type fakeRegistrationReader struct {
	byUser    map[string][]models.Subject
	bySubject map[string][]models.RegistrationDetail
}

func (f *fakeRegistrationReader) ListSubjectsByUser(ctx context.Context, userID string) ([]models.Subject, error) {
	return f.byUser[userID], nil
}

func (f *fakeRegistrationReader) ListBySubject(ctx context.Context, subjectID string) ([]models.RegistrationDetail, error) {
	return f.bySubject[subjectID], nil
}

func boolPtr(v bool) *bool { return &v }

func TestSubjectCatalogFlagsRegisteredSubjects(t *testing.T) {
	cn101 := newSubject("CN101", 2, true)
	ma201 := newSubject("MA201", 0, false)
	reader := &fakeRegistrationReader{byUser: map[string][]models.Subject{"u1": {ma201}}}
	svc := NewSubjectService(newFakeSubjectRepo(cn101, ma201), reader, nil, nil, nil, nil)

	listings, err := svc.Catalog(context.Background(), student("u1"))
	require.NoError(t, err)
	require.Len(t, listings, 2)
	for _, l := range listings {
		assert.Equal(t, l.ID == ma201.ID, l.Registered, l.Code)
	}

	mine, err := svc.MyRegistrations(context.Background(), student("u2"))
	require.NoError(t, err)
	assert.NotNil(t, mine)
	assert.Empty(t, mine)
}

func TestSubjectCreateNormalizesAndUppercases(t *testing.T) {
	repo := newFakeSubjectRepo()
	svc := NewSubjectService(repo, &fakeRegistrationReader{}, nil, nil, nil, nil)

	subject, err := svc.Create(context.Background(), SubjectRequest{
		Code:                " cn101 ",
		Name:                "Computer Networks",
		Term:                models.TermFirstSemester,
		AcademicYear:        "2024/2025",
		RemainingCapacity:   0,
		OpenForRegistration: boolPtr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, "CN101", subject.Code)
	assert.False(t, subject.OpenForRegistration)
	assert.NoError(t, subject.CheckInvariant())

	opened, err := svc.Create(context.Background(), SubjectRequest{
		Code: "CN102", Name: "Networks II", Term: models.TermSecondSemester, AcademicYear: "2024/2025", RemainingCapacity: 30,
	})
	require.NoError(t, err)
	assert.True(t, opened.OpenForRegistration)
}

func TestSubjectCreateRejectsDuplicateCode(t *testing.T) {
	existing := newSubject("CN101", 5, true)
	svc := NewSubjectService(newFakeSubjectRepo(existing), &fakeRegistrationReader{}, nil, nil, nil, nil)

	_, err := svc.Create(context.Background(), SubjectRequest{Code: "cn101", Name: "Dup", Term: models.TermFirstSemester, AcademicYear: "2024/2025", RemainingCapacity: 1})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestSubjectCreateValidation(t *testing.T) {
	svc := NewSubjectService(newFakeSubjectRepo(), &fakeRegistrationReader{}, nil, nil, nil, nil)

	cases := []SubjectRequest{
		{Code: "TOOLONGCODE1", Name: "x", Term: models.TermFirstSemester, AcademicYear: "2024/2025"},
		{Code: "CN1", Name: "x", Term: "WINTER", AcademicYear: "2024/2025"},
		{Code: "CN1", Name: "x", Term: models.TermFirstSemester, AcademicYear: "2024/20255"},
		{Code: "CN1", Name: "x", Term: models.TermFirstSemester, AcademicYear: "2024/2025", RemainingCapacity: -1},
	}
	for _, req := range cases {
		_, err := svc.Create(context.Background(), req)
		require.Error(t, err, req.Code)
		assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	}
}

func TestSubjectUpdate(t *testing.T) {
	existing := newSubject("CN101", 0, false)
	store := newMemRegistrationStore(existing)
	svc := NewSubjectService(newFakeSubjectRepo(existing), &fakeRegistrationReader{}, store, nil, nil, nil)

	updated, err := svc.Update(context.Background(), existing.ID, SubjectRequest{
		Code: "CN101", Name: "Networks", Term: models.TermSummerSemester, AcademicYear: "2025/2026", RemainingCapacity: 10, OpenForRegistration: boolPtr(true),
	})
	require.NoError(t, err)
	assert.Equal(t, 10, updated.RemainingCapacity)
	assert.True(t, updated.OpenForRegistration)
	assert.Equal(t, models.TermSummerSemester, store.subject(existing.ID).Term)

	_, err = svc.Update(context.Background(), uuid.NewString(), SubjectRequest{Code: "X1", Name: "x", Term: models.TermFirstSemester, AcademicYear: "2024/2025"})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.Update(context.Background(), "not-a-uuid", SubjectRequest{Code: "X1", Name: "x", Term: models.TermFirstSemester, AcademicYear: "2024/2025"})
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestSubjectUpdateKeepsFlagCommittedByRegistration(t *testing.T) {
	subject := newSubject("CN101", 1, true)
	store := newMemRegistrationStore(subject)
	coordinator, _, _ := newRegistrationService(store, RegistrationServiceConfig{})
	svc := NewSubjectService(newFakeSubjectRepo(subject), &fakeRegistrationReader{}, store, nil, nil, nil)

	// The last seat is taken after the admin form was loaded with the subject open.
	result, err := coordinator.Register(context.Background(), student("alice"), subject.ID)
	require.NoError(t, err)
	require.Equal(t, models.OutcomeRegistered, result.Outcome)

	updated, err := svc.Update(context.Background(), subject.ID, SubjectRequest{
		Code: "CN101", Name: "Computer Networks", Term: models.TermFirstSemester, AcademicYear: "2024/2025", RemainingCapacity: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "Computer Networks", updated.Name)
	assert.Equal(t, 3, updated.RemainingCapacity)
	assert.False(t, updated.OpenForRegistration)
	assert.False(t, store.subject(subject.ID).OpenForRegistration)
	assert.True(t, store.registered("alice", subject.ID))
}

func TestSubjectCatalogSkipsFillRacingInvalidation(t *testing.T) {
	subject := newSubject("CN101", 1, true)
	repo := newFakeSubjectRepo(subject)
	cache := NewCacheService(newMemCacheRepo(), nil, time.Minute, nil, true)
	svc := NewSubjectService(repo, &fakeRegistrationReader{}, nil, cache, nil, nil)

	// A registration commits and invalidates while the catalog is being read.
	repo.afterList = func() {
		repo.afterList = nil
		repo.subjects[subject.ID].RemainingCapacity = 0
		repo.subjects[subject.ID].OpenForRegistration = false
		cache.InvalidateSubjects(context.Background())
	}

	listings, err := svc.Catalog(context.Background(), student("u1"))
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.True(t, listings[0].OpenForRegistration)

	listings, err = svc.Catalog(context.Background(), student("u1"))
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.False(t, listings[0].OpenForRegistration)
	assert.Zero(t, listings[0].RemainingCapacity)
	assert.Equal(t, 2, repo.listCalls)

	_, err = svc.Catalog(context.Background(), student("u1"))
	require.NoError(t, err)
	assert.Equal(t, 2, repo.listCalls)
}

func TestSubjectListRejectsUnknownTerm(t *testing.T) {
	repo := newFakeSubjectRepo()
	svc := NewSubjectService(repo, &fakeRegistrationReader{}, nil, nil, nil, nil)

	_, _, err := svc.List(context.Background(), models.SubjectFilter{Term: "WINTER"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, pagination, err := svc.List(context.Background(), models.SubjectFilter{Term: models.TermFirstSemester, PageSize: 500})
	require.NoError(t, err)
	assert.Equal(t, 20, pagination.PageSize)
	assert.Equal(t, models.TermFirstSemester, repo.lastFilter.Term)
}

func TestSubjectRoster(t *testing.T) {
	subject := newSubject("CN101", 1, true)
	reader := &fakeRegistrationReader{bySubject: map[string][]models.RegistrationDetail{
		subject.ID: {{Registration: models.Registration{UserID: "u1", SubjectID: subject.ID}, Username: "alice"}},
	}}
	svc := NewSubjectService(newFakeSubjectRepo(subject), reader, nil, nil, nil, nil)

	got, roster, err := svc.Roster(context.Background(), subject.ID)
	require.NoError(t, err)
	assert.Equal(t, "CN101", got.Code)
	require.Len(t, roster, 1)
	assert.Equal(t, "alice", roster[0].Username)

	_, _, err = svc.Roster(context.Background(), "bogus")
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
