package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
)

func TestStatic(t *testing.T) {
	s := FromInts([]int{10001, 10002})
	assert.True(t, s.HasRestrictedNetworkingBypass(10001))
	assert.True(t, s.HasRestrictedNetworkingBypass(10002))
	assert.False(t, s.HasRestrictedNetworkingBypass(10003))
}

func TestStatic_Duplicates(t *testing.T) {
	s := NewStatic(10001, 10001)
	assert.True(t, s.HasRestrictedNetworkingBypass(10001))
	assert.Len(t, s.uids, 1)
}

func TestStatic_Empty(t *testing.T) {
	s := NewStatic()
	assert.False(t, s.HasRestrictedNetworkingBypass(domain.DefaultSystemUID))
}
