package capability

import (
	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
	"github.com/haukened/netpolicyd/internal/netpolicy/services/decision"
)

// Static grants the restricted networking bypass to a fixed set of UIDs
// loaded from configuration. It is immutable after construction.
type Static struct {
	uids map[domain.UID]struct{}
}

func NewStatic(uids ...domain.UID) *Static {
	s := &Static{uids: make(map[domain.UID]struct{}, len(uids))}
	for _, uid := range uids {
		s.uids[uid] = struct{}{}
	}
	return s
}

// FromInts builds a Static from configuration values.
func FromInts(uids []int) *Static {
	out := make([]domain.UID, 0, len(uids))
	for _, u := range uids {
		out = append(out, domain.UID(u))
	}
	return NewStatic(out...)
}

func (s *Static) HasRestrictedNetworkingBypass(uid domain.UID) bool {
	_, ok := s.uids[uid]
	return ok
}

var _ decision.CapabilityChecker = (*Static)(nil)
