package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/haukened/netpolicyd/internal/netpolicy/common/clock"
	"github.com/haukened/netpolicyd/internal/netpolicy/common/log"
	"github.com/haukened/netpolicyd/internal/netpolicy/domain"
	"github.com/haukened/netpolicyd/internal/netpolicy/repos/policystore"
)

// maxBodyBytes bounds request bodies on the control surface.
const maxBodyBytes = 4 << 10

// PolicyController is the policy mutation contract.
type PolicyController interface {
	SetGlobalMode(mode domain.GlobalMode, enabled bool) bool
	AddToList(mode domain.GlobalMode, list domain.ListKind, uid domain.UID) (bool, error)
	RemoveFromList(mode domain.GlobalMode, list domain.ListKind, uid domain.UID) bool
	Snapshot() domain.PolicySnapshot
}

// ImportanceReporter receives process-importance transitions.
type ImportanceReporter interface {
	OnImportanceChanged(uid domain.UID, state domain.ProcessState, at time.Time)
	Snapshot(uid domain.UID) domain.ProcessState
	Pending(uid domain.UID) (domain.ProcessState, bool)
	Forget(uid domain.UID)
}

// Decider answers verdict queries.
type Decider interface {
	Decide(uid domain.UID, class domain.NetworkClass) domain.Verdict
	IsRestrictedOnMeteredNetworks(uid domain.UID) bool
}

// Dispatcher stops following UIDs that no longer exist.
type Dispatcher interface {
	Forget(uid domain.UID)
}

// EnforcedVerdicts reports what the enforcer currently holds.
type EnforcedVerdicts interface {
	Last(uid domain.UID, class domain.NetworkClass) (domain.Verdict, bool)
}

type Options struct {
	Policy     PolicyController
	Importance ImportanceReporter
	Decider    Decider
	// Dispatcher and Enforced are optional.
	Dispatcher Dispatcher
	Enforced   EnforcedVerdicts
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	Clock   clock.Clock
	Logger  log.Logger
}

// Handler is the HTTP policy-control surface.
type Handler struct {
	policy     PolicyController
	importance ImportanceReporter
	decider    Decider
	dispatcher Dispatcher
	enforced   EnforcedVerdicts
	clock      clock.Clock
	logger     log.Logger
	mux        *http.ServeMux
}

// NewHandler builds the routed handler.
//
//	GET    /v1/modes
//	PUT    /v1/modes/{mode}               {"enabled": bool}
//	GET    /v1/lists/{mode}/{list}
//	PUT    /v1/lists/{mode}/{list}/{uid}
//	DELETE /v1/lists/{mode}/{list}/{uid}
//	POST   /v1/importance                 {"uid": int, "state": string, "at": RFC3339?}
//	GET    /v1/importance/{uid}
//	DELETE /v1/importance/{uid}           the UID no longer exists
//	GET    /v1/decision?uid=&network=
//	GET    /v1/restricted?uid=
//	GET    /v1/enforced?uid=              when Enforced is set
//	GET    /metrics                       when Metrics is set
func NewHandler(opts Options) *Handler {
	h := &Handler{
		policy:     opts.Policy,
		importance: opts.Importance,
		decider:    opts.Decider,
		dispatcher: opts.Dispatcher,
		enforced:   opts.Enforced,
		clock:      opts.Clock,
		logger:     opts.Logger,
		mux:        http.NewServeMux(),
	}
	if h.clock == nil {
		h.clock = clock.RealClock{}
	}
	if h.logger == nil {
		h.logger = log.NewNoopLogger()
	}

	h.mux.HandleFunc("GET /v1/modes", h.getModes)
	h.mux.HandleFunc("PUT /v1/modes/{mode}", h.putMode)
	h.mux.HandleFunc("GET /v1/lists/{mode}/{list}", h.getList)
	h.mux.HandleFunc("PUT /v1/lists/{mode}/{list}/{uid}", h.putMember)
	h.mux.HandleFunc("DELETE /v1/lists/{mode}/{list}/{uid}", h.deleteMember)
	h.mux.HandleFunc("POST /v1/importance", h.postImportance)
	h.mux.HandleFunc("GET /v1/importance/{uid}", h.getImportance)
	h.mux.HandleFunc("DELETE /v1/importance/{uid}", h.deleteImportance)
	h.mux.HandleFunc("GET /v1/decision", h.getDecision)
	h.mux.HandleFunc("GET /v1/restricted", h.getRestricted)
	if opts.Enforced != nil {
		h.mux.HandleFunc("GET /v1/enforced", h.getEnforced)
	}
	if opts.Metrics != nil {
		h.mux.Handle("GET /metrics", opts.Metrics)
	}
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

type modeRequest struct {
	Enabled *bool `json:"enabled"`
}

type modeResponse struct {
	Mode    string `json:"mode"`
	Enabled bool   `json:"enabled"`
	Changed bool   `json:"changed"`
}

type modesResponse struct {
	Version uint64          `json:"version"`
	Modes   map[string]bool `json:"modes"`
}

type listResponse struct {
	Mode    string       `json:"mode"`
	List    string       `json:"list"`
	Members []domain.UID `json:"members"`
}

type memberResponse struct {
	Mode    string     `json:"mode"`
	List    string     `json:"list"`
	UID     domain.UID `json:"uid"`
	Present bool       `json:"present"`
	Changed bool       `json:"changed"`
}

type importanceRequest struct {
	UID   *domain.UID `json:"uid"`
	State string      `json:"state"`
	At    *time.Time  `json:"at"`
}

type importanceResponse struct {
	UID     domain.UID `json:"uid"`
	State   string     `json:"state"`
	Pending string     `json:"pending,omitempty"`
}

type enforcedResponse struct {
	UID      domain.UID                 `json:"uid"`
	Verdicts map[string]decisionVerdict `json:"verdicts"`
}

type decisionVerdict struct {
	Blocked bool   `json:"blocked"`
	Reason  string `json:"reason"`
}

type decisionResponse struct {
	UID     domain.UID `json:"uid"`
	Network string     `json:"network"`
	Blocked bool       `json:"blocked"`
	Reason  string     `json:"reason"`
}

type restrictedResponse struct {
	UID        domain.UID `json:"uid"`
	Restricted bool       `json:"restricted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) getModes(w http.ResponseWriter, _ *http.Request) {
	snap := h.policy.Snapshot()
	resp := modesResponse{Version: snap.Version(), Modes: make(map[string]bool, domain.ModeCount)}
	for _, m := range domain.GlobalModes {
		resp.Modes[m.String()] = snap.Enabled(m)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) putMode(w http.ResponseWriter, r *http.Request) {
	mode, err := domain.ParseGlobalMode(r.PathValue("mode"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return
	}
	var req modeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Enabled == nil {
		h.writeError(w, http.StatusBadRequest, errors.New(`missing "enabled"`))
		return
	}
	changed := h.policy.SetGlobalMode(mode, *req.Enabled)
	h.writeJSON(w, http.StatusOK, modeResponse{Mode: mode.String(), Enabled: *req.Enabled, Changed: changed})
}

func (h *Handler) getList(w http.ResponseWriter, r *http.Request) {
	mode, list, ok := h.listFromPath(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, listResponse{
		Mode:    mode.String(),
		List:    list.String(),
		Members: h.policy.Snapshot().Members(mode, list),
	})
}

func (h *Handler) putMember(w http.ResponseWriter, r *http.Request) {
	mode, list, ok := h.listFromPath(w, r)
	if !ok {
		return
	}
	uid, err := domain.ParseUID(r.PathValue("uid"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	changed, err := h.policy.AddToList(mode, list, uid)
	if errors.Is(err, policystore.ErrConflictingMembership) {
		h.writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, err)
		return
	}
	h.writeJSON(w, http.StatusOK, memberResponse{
		Mode: mode.String(), List: list.String(), UID: uid, Present: true, Changed: changed,
	})
}

func (h *Handler) deleteMember(w http.ResponseWriter, r *http.Request) {
	mode, list, ok := h.listFromPath(w, r)
	if !ok {
		return
	}
	uid, err := domain.ParseUID(r.PathValue("uid"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	changed := h.policy.RemoveFromList(mode, list, uid)
	h.writeJSON(w, http.StatusOK, memberResponse{
		Mode: mode.String(), List: list.String(), UID: uid, Present: false, Changed: changed,
	})
}

func (h *Handler) postImportance(w http.ResponseWriter, r *http.Request) {
	var req importanceRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.UID == nil || *req.UID < 0 {
		h.writeError(w, http.StatusBadRequest, errors.New(`missing or negative "uid"`))
		return
	}
	state, err := domain.ParseProcessState(req.State)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	at := h.clock.Now()
	if req.At != nil {
		at = *req.At
	}
	h.importance.OnImportanceChanged(*req.UID, state, at)
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) getImportance(w http.ResponseWriter, r *http.Request) {
	uid, err := domain.ParseUID(r.PathValue("uid"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp := importanceResponse{UID: uid, State: h.importance.Snapshot(uid).String()}
	if target, ok := h.importance.Pending(uid); ok {
		resp.Pending = target.String()
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) deleteImportance(w http.ResponseWriter, r *http.Request) {
	uid, err := domain.ParseUID(r.PathValue("uid"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.importance.Forget(uid)
	if h.dispatcher != nil {
		h.dispatcher.Forget(uid)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getEnforced(w http.ResponseWriter, r *http.Request) {
	uid, err := domain.ParseUID(r.URL.Query().Get("uid"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	resp := enforcedResponse{UID: uid, Verdicts: make(map[string]decisionVerdict, len(domain.NetworkClasses))}
	for _, class := range domain.NetworkClasses {
		if v, ok := h.enforced.Last(uid, class); ok {
			resp.Verdicts[class.String()] = decisionVerdict{Blocked: v.Blocked, Reason: v.Reason.String()}
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getDecision(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	uid, err := domain.ParseUID(q.Get("uid"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	class, err := domain.ParseNetworkClass(q.Get("network"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	v := h.decider.Decide(uid, class)
	h.writeJSON(w, http.StatusOK, decisionResponse{
		UID: uid, Network: class.String(), Blocked: v.Blocked, Reason: v.Reason.String(),
	})
}

func (h *Handler) getRestricted(w http.ResponseWriter, r *http.Request) {
	uid, err := domain.ParseUID(r.URL.Query().Get("uid"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err)
		return
	}
	h.writeJSON(w, http.StatusOK, restrictedResponse{UID: uid, Restricted: h.decider.IsRestrictedOnMeteredNetworks(uid)})
}

// listFromPath resolves {mode}/{list}, answering 404 for combinations that have no list.
func (h *Handler) listFromPath(w http.ResponseWriter, r *http.Request) (domain.GlobalMode, domain.ListKind, bool) {
	mode, err := domain.ParseGlobalMode(r.PathValue("mode"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return 0, 0, false
	}
	list, err := domain.ParseListKind(r.PathValue("list"))
	if err != nil {
		h.writeError(w, http.StatusNotFound, err)
		return 0, 0, false
	}
	if !domain.HasList(mode, list) {
		h.writeError(w, http.StatusNotFound, fmt.Errorf("mode %s has no %s list", mode, list))
		return 0, 0, false
	}
	return mode, list, true
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn(map[string]any{"error": err.Error()}, "Failed to write control response")
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		h.logger.Error(map[string]any{"status": status, "error": err.Error()}, "Control request failed")
	} else {
		h.logger.Debug(map[string]any{"status": status, "error": err.Error()}, "Rejected control request")
	}
	h.writeJSON(w, status, errorResponse{Error: err.Error()})
}
