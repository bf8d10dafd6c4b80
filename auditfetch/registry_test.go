package auditfetch_test

import (
	"testing"

	"github.com/reconai/auditkit/auditfetch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	t.Parallel()

	registry := auditfetch.NewRegistry(auditfetch.WithOrigin("http://localhost:3000"))
	registry.
		Register("ledger", "https://ledger.example.com").
		Register("govcon", "https://govcon.example.com")

	client, ok := registry.Lookup("ledger")
	require.True(t, ok)
	assert.Equal(t, "https://ledger.example.com", client.BaseURL())
	assert.Equal(t, "http://localhost:3000", client.Origin())

	assert.Equal(t, []string{"govcon", "ledger"}, registry.Names())
	assert.Equal(t, 2, registry.Len())
}

func TestRegistry_MustClientPanicsForUnknown(t *testing.T) {
	t.Parallel()

	registry := auditfetch.NewRegistry()

	assert.PanicsWithValue(t, `auditfetch: backend "missing" not registered`, func() {
		registry.MustClient("missing")
	})
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	t.Parallel()

	registry := auditfetch.NewRegistry()
	registry.Register("ledger", "https://old.example.com")
	registry.Register("ledger", "https://new.example.com")

	assert.Equal(t, "https://new.example.com", registry.MustClient("ledger").BaseURL())
	assert.Equal(t, 1, registry.Len())
}

func TestRegistry_Unregister(t *testing.T) {
	t.Parallel()

	registry := auditfetch.NewRegistry()
	registry.Register("ledger", "https://ledger.example.com")

	assert.True(t, registry.Unregister("ledger"))
	assert.False(t, registry.Unregister("ledger"))

	_, ok := registry.Lookup("ledger")
	assert.False(t, ok)
}
