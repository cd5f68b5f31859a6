package depotagent

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Iliamish/ydb/clock"
)

func TestQueryIDCachesOnFirstCall(t *testing.T) {
	t.Parallel()

	q, err := newQuery(clock.NewMock(), newTestGet(1, 0, 10), "", nil)
	require.NoError(t, err)

	withoutTablet := q.QueryID(0)
	require.Equal(t, fmt.Sprintf("%x", q.id), withoutTablet)

	// Once cached, a later call with a real tabletID must not change it --
	// mirrors TQuery::GetQueryId caching on first access.
	require.Equal(t, withoutTablet, q.QueryID(99))
}

func TestQueryIDIncludesTabletIDWhenCachedFirst(t *testing.T) {
	t.Parallel()

	q, err := newQuery(clock.NewMock(), newTestGet(1, 0, 10), "", nil)
	require.NoError(t, err)

	withTablet := q.QueryID(99)
	require.Equal(t, fmt.Sprintf("%x@%d", q.id, 99), withTablet)
	require.Equal(t, withTablet, q.QueryID(0))
}

func TestRegistryNewQueryDoesNotPoisonQueryIDCache(t *testing.T) {
	t.Parallel()

	reg, _, _ := newTestRegistry(t)
	q, err := reg.NewQuery(newTestGet(1, 0, 10))
	require.NoError(t, err)

	// NewQuery must never call QueryID itself -- otherwise the cache would
	// be poisoned with tabletID=0 before the Agent gets a chance to supply
	// the real one (the bug this test guards against).
	require.Equal(t, fmt.Sprintf("%x@%d", q.id, 7), q.QueryID(7))
}
