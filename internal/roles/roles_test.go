package roles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UKPLab/CARE-broker/internal/quota"
)

func TestTableSeedsFixedRoles(t *testing.T) {
	table := NewTable(map[string]quota.Limits{
		Guest:   {Requests: 5, Results: 5, Jobs: 1},
		"bogus": {Requests: 1},
	})

	all := table.All()
	require.Len(t, all, 3)
	assert.Equal(t, "role:guest", all[0].Room)
	assert.Equal(t, quota.Limits{Requests: 5, Results: 5, Jobs: 1}, all[0].Limits)
	assert.Equal(t, quota.Limits{}, all[2].Limits)

	_, ok := table.Get("bogus")
	assert.False(t, ok)
}

func TestTableApplyReportsChangedRoles(t *testing.T) {
	table := NewTable(map[string]quota.Limits{
		Guest: {Requests: 5},
		User:  {Requests: 10},
	})
	changed := table.Apply(map[string]quota.Limits{
		Guest: {Requests: 5},
		User:  {Requests: 20},
		Admin: {Jobs: 3},
	})
	assert.Equal(t, []string{Admin, User}, changed)
	assert.Equal(t, 20, table.MustGet(User).Limits.Requests)
}
