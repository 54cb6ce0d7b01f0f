package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"laundry-branch-backend/config"
	"laundry-branch-backend/internal/catalog"
	"laundry-branch-backend/internal/db/dbtest"
	"laundry-branch-backend/internal/lifecycle"
	"laundry-branch-backend/internal/mw"
	"laundry-branch-backend/internal/model"
	"laundry-branch-backend/internal/parse"
	"laundry-branch-backend/internal/reconcile"
	"laundry-branch-backend/internal/registry"
	"laundry-branch-backend/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type server struct {
	t      *testing.T
	router *gin.Engine
	store  store.Store
	reg    registry.Registry
	branch model.Branch
	wash   model.ServiceType
}

func newServer(t *testing.T) *server {
	t.Helper()
	ctx := context.Background()
	gormDB := dbtest.Open(t)
	st := store.NewGormStore(gormDB)
	reg := registry.New(gormDB)

	branches, err := st.UpsertBranches(ctx, []string{"Downtown"})
	require.NoError(t, err)
	branch := branches["Downtown"]

	label, err := parse.ParseMachineLabel("W-1")
	require.NoError(t, err)
	require.NoError(t, reg.EnsureMachines(ctx, branch.ID, []parse.ParsedLabel{label}, "seed"))

	require.NoError(t, st.UpsertServiceTypes(ctx, []model.ServiceType{
		{Name: "Wash", Kind: "wash", MachineType: model.MachineTypeWasher, DurationMinutes: 45, Price: 700},
	}))
	types, err := st.ListServiceTypes(ctx)
	require.NoError(t, err)

	cat := catalog.NewCached(st, time.Minute)
	mgr := lifecycle.New(st, reg, cat)
	sweeper := reconcile.NewSweeper(st, reg, mgr)
	h := NewHandler(mgr, sweeper, st, cat, nil)

	cfg := config.ServerConfig{ActorHeader: "X-Actor", RateLimitPerSec: 1000, RateBurst: 1000, CacheTTLSeconds: 60}
	return &server{
		t:      t,
		router: NewRouter(h, cfg),
		store:  st,
		reg:    reg,
		branch: branch,
		wash:   types[0],
	}
}

func (s *server) do(method, path string, body any, actor string) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Actor", actor)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (s *server) openWith(services ...int64) openTransactionResponse {
	s.t.Helper()
	w := s.do(http.MethodPost, "/api/transactions", map[string]any{
		"branchId":       s.branch.ID,
		"serviceTypeIds": services,
	}, "alice")
	require.Equal(s.t, http.StatusCreated, w.Code, w.Body.String())
	return decode[openTransactionResponse](s.t, w)
}

func TestTransactionFlow(t *testing.T) {
	s := newServer(t)
	opened := s.openWith(s.wash.ID, s.wash.ID)

	require.Len(t, opened.Services, 2)
	assert.Equal(t, lifecycle.OutcomeSuccess, opened.Services[0].Outcome)
	assert.Equal(t, lifecycle.OutcomeQueued, opened.Services[1].Outcome)
	assert.EqualValues(t, 1400, *opened.Total)
	assert.EqualValues(t, 1400, opened.Transaction.Total)

	first := opened.Services[0].Assignment.ID
	second := opened.Services[1].Assignment.ID

	w := s.do(http.MethodPost, "/api/assignments/"+itoa(first)+"/complete", nil, "bob")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[lifecycle.Result](t, w)
	assert.Equal(t, model.AssignmentCompleted, res.Assignment.Status)

	w = s.do(http.MethodGet, "/api/transactions/"+itoa(opened.Transaction.ID), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	tx := decode[model.Transaction](t, w)
	require.Len(t, tx.Assignments, 2)
	assert.Equal(t, second, tx.Assignments[1].ID)
	assert.Equal(t, model.AssignmentActive, tx.Assignments[1].Status)

	w = s.do(http.MethodPost, "/api/transactions/"+itoa(opened.Transaction.ID)+"/close", nil, "bob")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, lifecycle.ReasonPendingServices, decode[lifecycle.Result](t, w).Reason)

	w = s.do(http.MethodPost, "/api/assignments/"+itoa(second)+"/cancel", map[string]string{"reason": "customer left"}, "bob")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 700, *decode[lifecycle.Result](t, w).Total)

	w = s.do(http.MethodPost, "/api/transactions/"+itoa(opened.Transaction.ID)+"/products",
		map[string]any{"name": "Softener", "quantity": 1, "unitPrice": 250}, "bob")
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.EqualValues(t, 950, *decode[lifecycle.Result](t, w).Total)

	w = s.do(http.MethodPost, "/api/transactions/"+itoa(opened.Transaction.ID)+"/close", nil, "bob")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.TransactionClosed, decode[lifecycle.Result](t, w).Transaction.Status)

	w = s.do(http.MethodPost, "/api/transactions/"+itoa(opened.Transaction.ID)+"/services",
		map[string]any{"serviceTypeId": s.wash.ID, "reason": "late add"}, "bob")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, lifecycle.ReasonTransactionClosed, decode[lifecycle.Result](t, w).Reason)
}

func TestAddServiceStatusCodes(t *testing.T) {
	s := newServer(t)
	opened := s.openWith()
	path := "/api/transactions/" + itoa(opened.Transaction.ID) + "/services"

	w := s.do(http.MethodPost, path, map[string]any{"serviceTypeId": s.wash.ID, "reason": "extra load"}, "alice")
	assert.Equal(t, http.StatusCreated, w.Code)

	w = s.do(http.MethodPost, path, map[string]any{"serviceTypeId": s.wash.ID, "reason": "extra load"}, "alice")
	assert.Equal(t, http.StatusAccepted, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "queued", body["outcome"])
	assert.Contains(t, body, "total")
	assert.Contains(t, body, "assignment")

	w = s.do(http.MethodPost, path, map[string]any{"serviceTypeId": s.wash.ID}, "alice")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(http.MethodPost, path, map[string]any{"serviceTypeId": 999, "reason": "x"}, "alice")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRejectionsMapToStatusCodes(t *testing.T) {
	s := newServer(t)
	opened := s.openWith(s.wash.ID, s.wash.ID)
	running := opened.Services[0].Assignment.ID
	waiting := opened.Services[1].Assignment.ID

	w := s.do(http.MethodPost, "/api/assignments/"+itoa(running)+"/complete", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code, "actor header is required")

	w = s.do(http.MethodPost, "/api/assignments/9999/complete", nil, "bob")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodPost, "/api/assignments/abc/complete", nil, "bob")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(http.MethodPost, "/api/assignments/"+itoa(waiting)+"/complete", nil, "bob")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, lifecycle.ReasonIllegalTransition, decode[lifecycle.Result](t, w).Reason)

	w = s.do(http.MethodPost, "/api/assignments/"+itoa(waiting)+"/cancel", map[string]string{}, "bob")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(http.MethodPost, "/api/assignments/"+itoa(waiting)+"/status", map[string]string{"status": "active"}, "bob")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, lifecycle.ReasonNoCapacity, decode[lifecycle.Result](t, w).Reason)

	w = s.do(http.MethodPost, "/api/assignments/"+itoa(running)+"/status", map[string]string{"status": "completed"}, "bob")
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(http.MethodPost, "/api/assignments/"+itoa(running)+"/cancel", map[string]string{"reason": "refund"}, "bob")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, lifecycle.ReasonAlreadyCompleted, decode[lifecycle.Result](t, w).Reason)

	w = s.do(http.MethodPost, "/api/transactions", map[string]any{"branchId": 9999}, "alice")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBoardAndQueue(t *testing.T) {
	s := newServer(t)
	s.openWith(s.wash.ID, s.wash.ID)

	w := s.do(http.MethodGet, "/api/branches/"+itoa(s.branch.ID)+"/machines", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	board := decode[lifecycle.Board](t, w)
	require.Len(t, board.Machines, 1)
	assert.Equal(t, model.MachineInUse, board.Machines[0].Status)
	assert.NotNil(t, board.Machines[0].Assignment)
	assert.Equal(t, 1, board.QueueLength[model.MachineTypeWasher])

	w = s.do(http.MethodGet, "/api/branches/"+itoa(s.branch.ID)+"/machines?type=dryer", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[lifecycle.Board](t, w).Machines)

	w = s.do(http.MethodGet, "/api/branches/"+itoa(s.branch.ID)+"/machines?type=boiler", nil, "")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(http.MethodGet, "/api/branches/9999/machines", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/api/branches/"+itoa(s.branch.ID)+"/queue?type=washer", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	queue := decode[struct {
		Assignments []model.ServiceAssignment `json:"assignments"`
	}](t, w)
	assert.Len(t, queue.Assignments, 1)
}

func TestMachineEndpoints(t *testing.T) {
	s := newServer(t)
	opened := s.openWith(s.wash.ID)
	machineID := *opened.Services[0].Assignment.MachineID
	path := "/api/machines/" + itoa(machineID)

	w := s.do(http.MethodPost, path+"/repaired", nil, "bob")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, lifecycle.ReasonMachineNotBroken, decode[lifecycle.Result](t, w).Reason)

	w = s.do(http.MethodPost, path+"/retire", nil, "bob")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, lifecycle.ReasonMachineInUse, decode[lifecycle.Result](t, w).Reason)

	w = s.do(http.MethodPost, path+"/broken", map[string]string{"reason": "door jammed"}, "bob")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	res := decode[lifecycle.Result](t, w)
	assert.Equal(t, model.MachineBroken, res.Machine.Status)
	assert.Equal(t, model.AssignmentCancelled, res.Assignment.Status)

	w = s.do(http.MethodPost, path+"/repaired", nil, "bob")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, model.MachineAvailable, decode[lifecycle.Result](t, w).Machine.Status)

	w = s.do(http.MethodPost, "/api/machines/9999/broken", nil, "bob")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSweepEndpoint(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodPost, "/api/branches/"+itoa(s.branch.ID)+"/sweep", nil, "bob")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[sweepResponse](t, w)
	assert.Equal(t, s.branch.ID, resp.Sweep.BranchID)
	assert.Equal(t, s.branch.ID, resp.Reconcile.BranchID)

	w = s.do(http.MethodPost, "/api/branches/9999/sweep", nil, "bob")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCatalogEndpointsAreCached(t *testing.T) {
	s := newServer(t)

	w := s.do(http.MethodGet, "/api/service_types", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	types := decode[[]model.ServiceType](t, w)
	require.Len(t, types, 1)
	assert.Equal(t, "Wash", types[0].Name)

	w = s.do(http.MethodGet, "/api/branches", nil, "")
	assert.Equal(t, "MISS", w.Header().Get(mw.CacheHeader))
	w = s.do(http.MethodGet, "/api/branches", nil, "")
	assert.Equal(t, "HIT", w.Header().Get(mw.CacheHeader))
	branches := decode[[]model.Branch](t, w)
	require.Len(t, branches, 1)
	assert.Equal(t, "Downtown", branches[0].Name)
}
