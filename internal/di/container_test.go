package di

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct{ name string }

func TestResolve(t *testing.T) {
	c := NewContainer()
	c.Register(SessionService, &fakeService{name: "s"})

	svc, err := Resolve[*fakeService](c, SessionService)
	require.NoError(t, err)
	assert.Equal(t, "s", svc.name)

	_, err = Resolve[*fakeService](c, ProjectService)
	assert.Error(t, err)

	_, err = Resolve[string](c, SessionService)
	assert.Error(t, err)

	assert.Panics(t, func() { MustResolve[*fakeService](c, HubService) })
}

func TestNamesAndHas(t *testing.T) {
	c := NewContainer()
	assert.Empty(t, c.GetNames())
	assert.False(t, c.Has(ApprovalService))

	c.Register(RegistryService, 1)
	c.Register(ApprovalService, 2)

	assert.Equal(t, []string{ApprovalService, RegistryService}, c.GetNames())
	assert.True(t, c.Has(ApprovalService))
}
