package store

import (
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/ansel1/merry"
)

type fakeRequest struct {
	obs      Observer
	ids      []ProductID
	started  int
	canceled int
}

func (r *fakeRequest) Start()  { r.started++ }
func (r *fakeRequest) Cancel() { r.canceled++ }

type fakeService struct {
	catalog []*fakeRequest
	refresh []*fakeRequest
}

func (s *fakeService) QueryCatalog(ids []ProductID, obs Observer) Request {
	req := &fakeRequest{obs: obs, ids: ids}
	s.catalog = append(s.catalog, req)
	return req
}

func (s *fakeService) RefreshCredential(obs Observer) Request {
	req := &fakeRequest{obs: obs}
	s.refresh = append(s.refresh, req)
	return req
}

type catalogCalls struct {
	results []CatalogResult
}

func (c *catalogCalls) onComplete(res CatalogResult) {
	c.results = append(c.results, res)
}

func TestCatalogSessionRequiresIDs(t *testing.T) {
	for _, ids := range [][]ProductID{nil, {}, {"", "  "}} {
		_, err := NewCatalogSession(&fakeService{}, ids, func(CatalogResult) {})
		if !merry.Is(err, ErrNoProductIDs) {
			t.Errorf("NewCatalogSession(%v) error = %v, want ErrNoProductIDs", ids, err)
		}
	}
}

func TestCatalogSessionStartsOnlyOnStart(t *testing.T) {
	svc := &fakeService{}
	calls := &catalogCalls{}
	sess, err := NewCatalogSession(svc, []ProductID{"b", "a", "b"}, calls.onComplete)
	if err != nil {
		t.Fatal(err)
	}
	req := svc.catalog[0]
	if req.started != 0 {
		t.Errorf("started = %d before Start(), want 0", req.started)
	}
	if sess.State() != Pending {
		t.Errorf("State() = %s, want pending", sess.State())
	}
	if !slices.Equal(req.ids, []ProductID{"a", "b"}) {
		t.Errorf("queried ids = %v, want [a b]", req.ids)
	}

	sess.Start()
	sess.Start()
	if req.started != 1 {
		t.Errorf("started = %d, want 1", req.started)
	}
	if sess.State() != InFlight {
		t.Errorf("State() = %s, want in_flight", sess.State())
	}
}

func TestCatalogSessionPartitionsIDs(t *testing.T) {
	svc := &fakeService{}
	calls := &catalogCalls{}
	sess, err := NewCatalogSession(svc, []ProductID{"A", "B", "C"}, calls.onComplete)
	if err != nil {
		t.Fatal(err)
	}
	sess.Start()

	if sess.IsCompleted() {
		t.Errorf("IsCompleted() = true before any event")
	}
	svc.catalog[0].obs.CatalogReceived(CatalogResponse{
		Products:   []Product{{ID: "A", Title: "a", Price: 1.5}, {ID: "B", Title: "b", Price: 2}},
		Unresolved: []ProductID{"C"},
	})

	if len(calls.results) != 1 {
		t.Fatalf("callback fired %d times, want 1", len(calls.results))
	}
	res := calls.results[0]
	if !res.IsSuccess() {
		t.Fatalf("result error = %v, want success", res.Err)
	}
	if len(res.Products) != 2 || res.Products["A"].Title != "a" || res.Products["B"].Price != 2 {
		t.Errorf("Products = %v, want A and B", res.Products)
	}
	if !slices.Equal(res.Unresolved, []ProductID{"C"}) {
		t.Errorf("Unresolved = %v, want [C]", res.Unresolved)
	}
	if !sess.IsCompleted() {
		t.Errorf("IsCompleted() = false after event")
	}
	cached, ok := sess.CachedResult()
	if !ok || len(cached.Products) != 2 {
		t.Errorf("CachedResult() = %v, %v", cached, ok)
	}
}

func TestCatalogSessionNormalizesStoreResponse(t *testing.T) {
	svc := &fakeService{}
	calls := &catalogCalls{}
	sess, _ := NewCatalogSession(svc, []ProductID{"A", "B", "C"}, calls.onComplete)
	sess.Start()

	// C is silently omitted, X was never asked for
	svc.catalog[0].obs.CatalogReceived(CatalogResponse{
		Products:   []Product{{ID: "A"}, {ID: "X"}},
		Unresolved: []ProductID{"B"},
	})

	res := calls.results[0]
	if _, ok := res.Products["X"]; ok {
		t.Errorf("Products contains X, which was not queried")
	}
	if len(res.Products) != 1 {
		t.Errorf("len(Products) = %d, want 1", len(res.Products))
	}
	if !slices.Equal(res.Unresolved, []ProductID{"B", "C"}) {
		t.Errorf("Unresolved = %v, want [B C]", res.Unresolved)
	}
}

func TestCatalogSessionFailure(t *testing.T) {
	svc := &fakeService{}
	calls := &catalogCalls{}
	sess, _ := NewCatalogSession(svc, []ProductID{"A"}, calls.onComplete)
	sess.Start()

	transportErr := errors.New("connection reset")
	svc.catalog[0].obs.RequestFailed(transportErr)

	if len(calls.results) != 1 {
		t.Fatalf("callback fired %d times, want 1", len(calls.results))
	}
	if calls.results[0].Err != transportErr {
		t.Errorf("Err = %v, want %v", calls.results[0].Err, transportErr)
	}
	cached, ok := sess.CachedResult()
	if !ok || cached.Err != transportErr || cached.IsSuccess() {
		t.Errorf("CachedResult() = %v, %v, want failure with %v", cached, ok, transportErr)
	}
}

func TestCatalogSessionFiresOnce(t *testing.T) {
	svc := &fakeService{}
	calls := &catalogCalls{}
	sess, _ := NewCatalogSession(svc, []ProductID{"A"}, calls.onComplete)
	sess.Start()
	obs := svc.catalog[0].obs

	obs.CatalogReceived(CatalogResponse{Products: []Product{{ID: "A"}}})
	obs.RequestFailed(errors.New("late"))
	obs.CatalogReceived(CatalogResponse{Unresolved: []ProductID{"A"}})
	obs.RequestFinished()

	if len(calls.results) != 1 {
		t.Fatalf("callback fired %d times, want 1", len(calls.results))
	}
	if !calls.results[0].IsSuccess() {
		t.Errorf("first result is not success: %v", calls.results[0].Err)
	}
	cached, _ := sess.CachedResult()
	if !cached.IsSuccess() || len(cached.Products) != 1 {
		t.Errorf("CachedResult() changed after completion: %v", cached)
	}
	if !sess.IsCompleted() {
		t.Errorf("IsCompleted() reverted")
	}

	// released request can not be restarted
	sess.Start()
	if svc.catalog[0].started != 1 {
		t.Errorf("started = %d after completion, want 1", svc.catalog[0].started)
	}
}

func TestCatalogSessionFiresOnceConcurrently(t *testing.T) {
	svc := &fakeService{}
	var mutex sync.Mutex
	count := 0
	sess, _ := NewCatalogSession(svc, []ProductID{"A"}, func(CatalogResult) {
		mutex.Lock()
		count++
		mutex.Unlock()
	})
	sess.Start()
	obs := svc.catalog[0].obs

	wg := sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				obs.CatalogReceived(CatalogResponse{Products: []Product{{ID: "A"}}})
			} else {
				obs.RequestFailed(errors.New("boom"))
			}
		}(i)
	}
	wg.Wait()

	if count != 1 {
		t.Errorf("callback fired %d times, want 1", count)
	}
}

func TestCatalogSessionIgnoresFinishedEvent(t *testing.T) {
	svc := &fakeService{}
	calls := &catalogCalls{}
	sess, _ := NewCatalogSession(svc, []ProductID{"A"}, calls.onComplete)
	sess.Start()

	svc.catalog[0].obs.RequestFinished()
	if len(calls.results) != 0 || sess.IsCompleted() {
		t.Errorf("finished event completed a catalog session")
	}
}

func TestCatalogSessionCancel(t *testing.T) {
	svc := &fakeService{}
	calls := &catalogCalls{}
	sess, _ := NewCatalogSession(svc, []ProductID{"A"}, calls.onComplete)
	sess.Start()
	sess.Cancel()

	req := svc.catalog[0]
	if req.canceled != 1 {
		t.Errorf("canceled = %d, want 1", req.canceled)
	}
	if len(calls.results) != 0 || sess.IsCompleted() {
		t.Errorf("Cancel() completed the session")
	}

	// an event already in flight still completes it, once
	req.obs.RequestFailed(errors.New("canceled"))
	req.obs.RequestFailed(errors.New("canceled"))
	sess.Cancel()
	if len(calls.results) != 1 {
		t.Errorf("callback fired %d times, want 1", len(calls.results))
	}
	if req.canceled != 1 {
		t.Errorf("canceled = %d after completion, want 1", req.canceled)
	}
}

func TestRefreshSessionStartsEagerly(t *testing.T) {
	svc := &fakeService{}
	sess := NewRefreshSession(svc, func(RefreshResult) {})

	if len(svc.refresh) != 1 || svc.refresh[0].started != 1 {
		t.Fatalf("refresh request not started")
	}
	if sess.State() != InFlight {
		t.Errorf("State() = %s, want in_flight", sess.State())
	}
	sess.Start()
	if svc.refresh[0].started != 1 {
		t.Errorf("started = %d after explicit Start(), want 1", svc.refresh[0].started)
	}
	if _, ok := sess.CachedResult(); ok {
		t.Errorf("refresh session has a cached catalog result")
	}
}

func TestRefreshSessionResults(t *testing.T) {
	tests := []struct {
		name string
		fire func(Observer)
		want RefreshResult
	}{
		{"finished", func(o Observer) { o.RequestFinished() }, RefreshSuccess()},
		{"failed", func(o Observer) { o.RequestFailed(errors.New("no network")) }, RefreshFailure(RefreshFailed)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			var results []RefreshResult
			sess := NewRefreshSession(svc, func(res RefreshResult) { results = append(results, res) })
			req := svc.refresh[0]

			tt.fire(req.obs)
			req.obs.RequestFinished()
			req.obs.RequestFailed(errors.New("again"))

			if len(results) != 1 {
				t.Fatalf("callback fired %d times, want 1", len(results))
			}
			if results[0] != tt.want {
				t.Errorf("result = %v, want %v", results[0], tt.want)
			}
			if !sess.IsCompleted() {
				t.Errorf("IsCompleted() = false")
			}
			if req.canceled != 1 {
				t.Errorf("canceled = %d, want 1", req.canceled)
			}
		})
	}
}

func TestRefreshSessionDropsCatalogResponse(t *testing.T) {
	svc := &fakeService{}
	var results []RefreshResult
	sess := NewRefreshSession(svc, func(res RefreshResult) { results = append(results, res) })

	svc.refresh[0].obs.CatalogReceived(CatalogResponse{Products: []Product{{ID: "A"}}})
	if len(results) != 0 || sess.IsCompleted() {
		t.Errorf("catalog response completed a refresh session")
	}
	if _, ok := sess.CachedResult(); ok {
		t.Errorf("catalog response cached on a refresh session")
	}
}

type syncRefreshService struct {
	fakeService
}

func (s *syncRefreshService) RefreshCredential(obs Observer) Request {
	req := s.fakeService.RefreshCredential(obs)
	obs.RequestFinished()
	return req
}

func TestRefreshSessionCompletedBeforeStart(t *testing.T) {
	svc := &syncRefreshService{}
	var results []RefreshResult
	sess := NewRefreshSession(svc, func(res RefreshResult) { results = append(results, res) })

	if len(results) != 1 || !results[0].IsSuccess() {
		t.Errorf("results = %v, want one success", results)
	}
	req := svc.refresh[0]
	if req.started != 0 || req.canceled != 1 {
		t.Errorf("started = %d canceled = %d, want 0 and 1", req.started, req.canceled)
	}
	if !sess.IsCompleted() {
		t.Errorf("IsCompleted() = false")
	}
}

func TestCallbackCanReadSession(t *testing.T) {
	svc := &fakeService{}
	var sess *Session
	var completedInside bool
	sess, _ = NewCatalogSession(svc, []ProductID{"A"}, func(CatalogResult) {
		completedInside = sess.IsCompleted()
		_, _ = sess.CachedResult()
	})
	sess.Start()
	svc.catalog[0].obs.RequestFailed(errors.New("x"))
	if !completedInside {
		t.Errorf("IsCompleted() inside callback = false, want true")
	}
}
