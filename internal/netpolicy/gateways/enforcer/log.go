package enforcer

import (
	"context"
	"sync"

	"github.com/haukened/netpolicyd/internal/netpolicy/common/log"
	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
	"github.com/haukened/netpolicyd/internal/netpolicy/services/enforcement"
)

// LogEnforcer records verdicts through the logger instead of programming a
// packet filter. It remembers the last verdict applied per UID and class.
type LogEnforcer struct {
	mu      sync.RWMutex
	logger  log.Logger
	applied map[enforcement.Key]domain.Verdict
}

func NewLogEnforcer(logger log.Logger) *LogEnforcer {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &LogEnforcer{logger: logger, applied: make(map[enforcement.Key]domain.Verdict)}
}

// Apply logs the verdict and stores it. It fails only if ctx is already done.
func (e *LogEnforcer) Apply(ctx context.Context, uid domain.UID, class domain.NetworkClass, v domain.Verdict) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	e.applied[enforcement.Key{UID: uid, Class: class}] = v
	e.mu.Unlock()

	e.logger.Info(map[string]any{
		"uid":     uid.String(),
		"network": class.String(),
		"blocked": v.Blocked,
		"reason":  v.Reason.String(),
	}, "Applied network verdict")
	return nil
}

// Last returns the verdict most recently applied for uid on class.
func (e *LogEnforcer) Last(uid domain.UID, class domain.NetworkClass) (domain.Verdict, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.applied[enforcement.Key{UID: uid, Class: class}]
	return v, ok
}

var _ enforcement.Enforcer = (*LogEnforcer)(nil)
