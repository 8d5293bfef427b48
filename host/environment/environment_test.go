package environment

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theaterrun/theater/chain"
	"github.com/theaterrun/theater/chain/inmem"
	"github.com/theaterrun/theater/handler"
	"github.com/theaterrun/theater/hostcall"
	"github.com/theaterrun/theater/id"
	"github.com/theaterrun/theater/permission"
)

var _ handler.Handler = (*Handler)(nil)

func newHandler(t *testing.T, perm *permission.EnvironmentPermissions) (*Handler, *chain.Chain) {
	t.Helper()
	c, err := chain.New(context.Background(), id.NewActorID([]byte("env-test")), inmem.New())
	require.NoError(t, err)
	h := New(perm, hostcall.New(hostcall.Live, c, nil))
	vars := map[string]string{
		"APP_MODE":   "production",
		"APP_SECRET": "hunter2",
		"HOME":       "/home/actor",
	}
	h.lookup = func(name string) (string, bool) {
		v, ok := vars[name]
		return v, ok
	}
	h.environ = func() []string {
		return []string{"APP_MODE=production", "APP_SECRET=hunter2", "HOME=/home/actor"}
	}
	return h, c
}

func TestGetVarAllowed(t *testing.T) {
	t.Parallel()
	h, c := newHandler(t, &permission.EnvironmentPermissions{AllowedVars: []string{"APP_MODE"}})

	v, ok, err := h.GetVar(context.Background(), "APP_MODE")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "production", v)

	evs, err := c.List(context.Background())
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "environment/get-var", evs[0].EventType)
}

func TestGetVarFailsClosedWithoutAllowList(t *testing.T) {
	t.Parallel()
	h, _ := newHandler(t, &permission.EnvironmentPermissions{})
	_, _, err := h.GetVar(context.Background(), "APP_MODE")
	require.Error(t, err)
}

func TestGetVarDeniedVarWinsOverAllowAll(t *testing.T) {
	t.Parallel()
	h, _ := newHandler(t, &permission.EnvironmentPermissions{
		AllowListAll: true,
		DeniedVars:   []string{"APP_SECRET"},
	})

	_, _, err := h.GetVar(context.Background(), "APP_SECRET")
	require.Error(t, err)

	v, ok, err := h.GetVar(context.Background(), "APP_MODE")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "production", v)
}

func TestGetVarAbsentIsNotAnError(t *testing.T) {
	t.Parallel()
	h, _ := newHandler(t, &permission.EnvironmentPermissions{AllowListAll: true})

	_, ok, err := h.GetVar(context.Background(), "NO_SUCH_VAR")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestExistsUnderPrefixGrant(t *testing.T) {
	t.Parallel()
	h, _ := newHandler(t, &permission.EnvironmentPermissions{AllowedPrefixes: []string{"APP_"}})

	ok, err := h.Exists(context.Background(), "APP_MODE")
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.Exists(context.Background(), "HOME")
	require.Error(t, err)
}

func TestListVarsFiltersToGrant(t *testing.T) {
	t.Parallel()
	h, _ := newHandler(t, &permission.EnvironmentPermissions{
		AllowedPrefixes: []string{"APP_"},
		DeniedVars:      []string{"APP_SECRET"},
	})

	vars, err := h.ListVars(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]string{"APP_MODE": "production"}, vars)
}

func TestListVarsNilPermissionFailsClosed(t *testing.T) {
	t.Parallel()
	h, _ := newHandler(t, nil)
	_, err := h.ListVars(context.Background())
	require.Error(t, err)
}
