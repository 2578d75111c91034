package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/subject-registration-api/internal/models"
	"github.com/noah-isme/subject-registration-api/internal/service"
	appErrors "github.com/noah-isme/subject-registration-api/pkg/errors"
)

type fakeSubjectSrv struct {
	catalog     []models.SubjectListing
	subject     *models.Subject
	roster      []models.RegistrationDetail
	err         error
	lastFilter  models.SubjectFilter
	lastRequest service.SubjectRequest
	lastID      string
	identity    models.Identity
}

func (f *fakeSubjectSrv) Catalog(_ context.Context, identity models.Identity) ([]models.SubjectListing, error) {
	f.identity = identity
	return f.catalog, f.err
}

func (f *fakeSubjectSrv) MyRegistrations(_ context.Context, identity models.Identity) ([]models.Subject, error) {
	f.identity = identity
	if f.subject == nil {
		return []models.Subject{}, f.err
	}
	return []models.Subject{*f.subject}, f.err
}

func (f *fakeSubjectSrv) List(_ context.Context, filter models.SubjectFilter) ([]models.Subject, *models.Pagination, error) {
	f.lastFilter = filter
	return []models.Subject{}, &models.Pagination{Page: 1, PageSize: 20, TotalCount: 0}, f.err
}

func (f *fakeSubjectSrv) Get(_ context.Context, id string) (*models.Subject, error) {
	f.lastID = id
	return f.subject, f.err
}

func (f *fakeSubjectSrv) Roster(_ context.Context, id string) (*models.Subject, []models.RegistrationDetail, error) {
	f.lastID = id
	return f.subject, f.roster, f.err
}

func (f *fakeSubjectSrv) Create(_ context.Context, req service.SubjectRequest) (*models.Subject, error) {
	f.lastRequest = req
	return f.subject, f.err
}

func (f *fakeSubjectSrv) Update(_ context.Context, id string, req service.SubjectRequest) (*models.Subject, error) {
	f.lastID, f.lastRequest = id, req
	return f.subject, f.err
}

func TestSubjectHandlerCatalog(t *testing.T) {
	srv := &fakeSubjectSrv{catalog: []models.SubjectListing{
		{Subject: models.Subject{ID: "s1", Code: "CN101"}, Registered: true},
		{Subject: models.Subject{ID: "s2", Code: "MA201"}},
	}}
	h := NewSubjectHandler(srv)

	c, rec := newTestContext(http.MethodGet, "/subjects", nil)
	asUser(c, "user-7", models.RoleStudent)
	h.Catalog(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-7", srv.identity.UserID)

	var listings []models.SubjectListing
	require.NoError(t, json.Unmarshal(decodeEnvelope(t, rec).Data, &listings))
	require.Len(t, listings, 2)
	assert.True(t, listings[0].Registered)
	assert.False(t, listings[1].Registered)
}

func TestSubjectHandlerGetNotFound(t *testing.T) {
	h := NewSubjectHandler(&fakeSubjectSrv{err: appErrors.Clone(appErrors.ErrNotFound, "subject not found")})

	c, rec := newTestContext(http.MethodGet, "/subjects/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}
	h.Get(c)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubjectHandlerMyRegistrations(t *testing.T) {
	srv := &fakeSubjectSrv{subject: &models.Subject{ID: "s1", Code: "CN101"}}
	h := NewSubjectHandler(srv)

	c, rec := newTestContext(http.MethodGet, "/me/registrations", nil)
	asUser(c, "user-7", models.RoleStudent)
	h.MyRegistrations(c)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, string(decodeEnvelope(t, rec).Data), "CN101")
}
