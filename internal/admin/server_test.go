package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/danmuck/liftctl/internal/elevator"
	"github.com/danmuck/liftctl/internal/jobs"
	"github.com/danmuck/liftctl/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

type stubBackend struct {
	reg   *jobs.Registry
	state elevator.State
	calls []int
	cabin []int
}

func (b *stubBackend) NodeID() string        { return "node-a" }
func (b *stubBackend) Jobs() []jobs.Entry    { return b.reg.Snapshot() }
func (b *stubBackend) State() elevator.State { return b.state }
func (b *stubBackend) Cabin(floor int) error { b.cabin = append(b.cabin, floor); return nil }
func (b *stubBackend) Call(target int) error {
	if target == 0 {
		return fmt.Errorf("%w: target 0", ErrInvalidInput)
	}
	b.calls = append(b.calls, target)
	return nil
}

func newTestServer(t *testing.T) (*Server, *stubBackend) {
	t.Helper()
	testlog.Start(t)
	b := &stubBackend{
		reg:   jobs.NewRegistry(jobs.Options{Logger: log.Logger}),
		state: elevator.State{Floor: 2, Phase: elevator.Idle.String(), Direction: "stop", Cabin: []int{}},
	}
	return New(b, nil, log.Logger), b
}

func do(s *Server, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	s.HTTPRouter().ServeHTTP(rr, req)
	return rr
}

func TestHealthAndReady(t *testing.T) {
	s, b := newTestServer(t)
	if rr := do(s, http.MethodGet, "/health"); rr.Code != http.StatusOK {
		t.Fatalf("health status=%d", rr.Code)
	}
	if rr := do(s, http.MethodGet, "/ready"); rr.Code != http.StatusOK {
		t.Fatalf("ready status=%d body=%s", rr.Code, rr.Body.String())
	}
	b.state.Phase = elevator.Halted.String()
	if rr := do(s, http.MethodGet, "/ready"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("halted node must not be ready, status=%d", rr.Code)
	}
}

func TestJobsListsRegistryInDispatchOrder(t *testing.T) {
	s, b := newTestServer(t)
	b.reg.Put(jobs.Hall(3), time.Second, true)
	b.reg.Put(jobs.CabinFloor(1), 0, false)

	rr := do(s, http.MethodGet, "/jobs")
	if rr.Code != http.StatusOK {
		t.Fatalf("jobs status=%d", rr.Code)
	}
	var body struct {
		Jobs []JobView `json:"jobs"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Jobs) != 2 || !body.Jobs[0].Cabin || body.Jobs[1].Target != 3 || body.Jobs[1].DelayMS != 1000 {
		t.Fatalf("unexpected jobs: %+v", body.Jobs)
	}
}

func TestStateRoute(t *testing.T) {
	s, _ := newTestServer(t)
	rr := do(s, http.MethodGet, "/state")
	var got elevator.State
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Floor != 2 || got.Phase != "idle" {
		t.Fatalf("unexpected state: %+v", got)
	}
}

func TestInjectCallsAndCabin(t *testing.T) {
	s, b := newTestServer(t)
	if rr := do(s, http.MethodPost, "/calls/-3"); rr.Code != http.StatusAccepted {
		t.Fatalf("call status=%d body=%s", rr.Code, rr.Body.String())
	}
	if rr := do(s, http.MethodPost, "/cabin/4"); rr.Code != http.StatusAccepted {
		t.Fatalf("cabin status=%d", rr.Code)
	}
	if rr := do(s, http.MethodPost, "/calls/up"); rr.Code != http.StatusBadRequest {
		t.Fatalf("non-integer target must be rejected, status=%d", rr.Code)
	}
	if rr := do(s, http.MethodPost, "/calls/0"); rr.Code != http.StatusBadRequest {
		t.Fatalf("invalid target must be rejected, status=%d", rr.Code)
	}
	if len(b.calls) != 1 || b.calls[0] != -3 || len(b.cabin) != 1 || b.cabin[0] != 4 {
		t.Fatalf("unexpected injections calls=%v cabin=%v", b.calls, b.cabin)
	}
}

func TestMetricsRoute(t *testing.T) {
	s, _ := newTestServer(t)
	do(s, http.MethodGet, "/health")
	rr := do(s, http.MethodGet, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics status=%d", rr.Code)
	}
}
