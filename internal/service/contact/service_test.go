package contact_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/tinymail/internal/domain"
	"github.com/ignite/tinymail/internal/service/contact"
)

// memRepo is an in-memory contact repository for unit testing.
type memRepo struct {
	mu       sync.Mutex
	contacts map[string]*domain.Contact
}

func newMemRepo() *memRepo {
	return &memRepo{contacts: map[string]*domain.Contact{}}
}

func (m *memRepo) Get(_ context.Context, id string) (*domain.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return nil, contact.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memRepo) GetByEmail(_ context.Context, email string) (*domain.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contacts {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, contact.ErrNotFound
}

func (m *memRepo) List(_ context.Context, f contact.ListFilter) ([]domain.Contact, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Contact
	for _, c := range m.contacts {
		if f.Status != "" && string(c.Status) != f.Status {
			continue
		}
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (m *memRepo) Create(_ context.Context, c *domain.Contact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.contacts {
		if existing.Email == c.Email {
			return contact.ErrDuplicateEmail
		}
	}
	cp := *c
	m.contacts[c.ID] = &cp
	return nil
}

func (m *memRepo) Update(_ context.Context, id string, u contact.UpdateFields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return contact.ErrNotFound
	}
	if u.Email != nil {
		c.Email = *u.Email
	}
	if u.Meta != nil {
		c.Meta = u.Meta
	}
	return nil
}

func (m *memRepo) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contacts[id]; !ok {
		return contact.ErrNotFound
	}
	delete(m.contacts, id)
	return nil
}

func (m *memRepo) SetStatus(_ context.Context, id string, status domain.ContactStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return contact.ErrNotFound
	}
	c.Status = status
	return nil
}

func TestCreateSplitsAcceptedAndRejected(t *testing.T) {
	svc := contact.NewService(newMemRepo())
	res, err := svc.Create(context.Background(), []contact.CreateInput{
		{Email: "ada@example.com", Meta: map[string]interface{}{"name": "Ada"}},
		{Email: "not-an-email"},
		{Email: "  grace@Example.COM "},
		{Email: ""},
	})
	require.NoError(t, err)

	require.Len(t, res.Created, 2)
	assert.Equal(t, "ada@example.com", res.Created[0].Email)
	assert.Equal(t, "Ada", res.Created[0].Meta["name"])
	assert.Equal(t, domain.ContactActive, res.Created[0].Status)
	assert.Equal(t, "grace@example.com", res.Created[1].Email)
	assert.NotNil(t, res.Created[1].Meta)

	assert.Equal(t, []string{"not-an-email", ""}, res.RejectedEmails)
}

func TestCreateRejectsDuplicates(t *testing.T) {
	svc := contact.NewService(newMemRepo())
	_, err := svc.Create(context.Background(), []contact.CreateInput{{Email: "ada@example.com"}})
	require.NoError(t, err)

	res, err := svc.Create(context.Background(), []contact.CreateInput{{Email: "ada@example.com"}})
	require.NoError(t, err)
	assert.Empty(t, res.Created)
	assert.Equal(t, []string{"ada@example.com"}, res.RejectedEmails)
}

func TestGetByEmail(t *testing.T) {
	svc := contact.NewService(newMemRepo())
	res, _ := svc.Create(context.Background(), []contact.CreateInput{{Email: "ada@example.com"}})

	c, err := svc.GetByEmail(context.Background(), "ada@EXAMPLE.com")
	require.NoError(t, err)
	assert.Equal(t, res.Created[0].ID, c.ID)

	_, err = svc.GetByEmail(context.Background(), "garbage")
	assert.ErrorIs(t, err, contact.ErrNotFound)
}

func TestUpdate(t *testing.T) {
	svc := contact.NewService(newMemRepo())
	res, _ := svc.Create(context.Background(), []contact.CreateInput{{Email: "ada@example.com"}})
	id := res.Created[0].ID

	email := "lovelace@example.com"
	c, err := svc.Update(context.Background(), id, contact.UpdateFields{
		Email: &email,
		Meta:  map[string]interface{}{"name": "Ada"},
	})
	require.NoError(t, err)
	assert.Equal(t, email, c.Email)
	assert.Equal(t, "Ada", c.Meta["name"])

	bad := "nope"
	_, err = svc.Update(context.Background(), id, contact.UpdateFields{Email: &bad})
	assert.ErrorIs(t, err, contact.ErrInvalidEmail)

	_, err = svc.Update(context.Background(), "missing", contact.UpdateFields{})
	assert.ErrorIs(t, err, contact.ErrNotFound)
}

func TestUnsubscribeIdempotent(t *testing.T) {
	svc := contact.NewService(newMemRepo())
	res, _ := svc.Create(context.Background(), []contact.CreateInput{{Email: "ada@example.com"}})
	id := res.Created[0].ID

	require.NoError(t, svc.Unsubscribe(context.Background(), id))
	require.NoError(t, svc.Unsubscribe(context.Background(), id))

	c, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, c.IsUnsubscribed())

	assert.ErrorIs(t, svc.Unsubscribe(context.Background(), "missing"), contact.ErrNotFound)
}

func TestRenderContextIncludesEmail(t *testing.T) {
	c := domain.Contact{Email: "ada@example.com", Meta: map[string]interface{}{"name": "Ada"}}
	ctx := c.RenderContext()
	assert.Equal(t, "Ada", ctx["name"])
	assert.Equal(t, "ada@example.com", ctx["email"])

	c.Meta["email"] = "override@example.com"
	assert.True(t, strings.HasPrefix(c.RenderContext()["email"].(string), "override"))
}
