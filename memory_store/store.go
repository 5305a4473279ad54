// Package memory_store is an in-process store backed by a fixed catalog.
// It answers asynchronously like a remote store would and is used for
// development and tests.
package memory_store

import (
	"encoding/json"
	"os"
	"store_bridge/store"
	"sync"
	"time"

	"github.com/ansel1/merry"
	"github.com/rs/zerolog/log"
)

var ErrStoreUnavailable = merry.New("memory store: unavailable")

type Store struct {
	Delay time.Duration

	mutex         sync.RWMutex
	products      map[store.ProductID]store.Product
	catalogErr    error
	refreshErr    error
	refreshCount  int
	pendingEvents sync.WaitGroup
}

func New(products []store.Product) *Store {
	s := &Store{products: make(map[store.ProductID]store.Product, len(products))}
	for _, p := range products {
		s.products[p.ID] = p
	}
	return s
}

// LoadFixtures reads a JSON array of products.
func LoadFixtures(fpath string) (*Store, error) {
	buf, err := os.ReadFile(fpath)
	if err != nil {
		return nil, merry.Wrap(err)
	}
	var products []store.Product
	if err := json.Unmarshal(buf, &products); err != nil {
		return nil, merry.Prependf(err, "memory store: fixtures %s", fpath)
	}
	log.Info().Int("count", len(products)).Str("fpath", fpath).Msg("memory-store: fixtures loaded")
	return New(products), nil
}

// FailCatalog makes following catalog queries fail with err (nil to recover).
func (s *Store) FailCatalog(err error) {
	s.mutex.Lock()
	s.catalogErr = err
	s.mutex.Unlock()
}

// FailRefresh makes following refreshes fail with err (nil to recover).
func (s *Store) FailRefresh(err error) {
	s.mutex.Lock()
	s.refreshErr = err
	s.mutex.Unlock()
}

func (s *Store) RefreshCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.refreshCount
}

// Wait blocks until all started requests have delivered or dropped their events.
func (s *Store) Wait() {
	s.pendingEvents.Wait()
}

func (s *Store) QueryCatalog(ids []store.ProductID, obs store.Observer) store.Request {
	return s.newRequest(obs, func(obs store.Observer) {
		s.mutex.RLock()
		err := s.catalogErr
		resp := store.CatalogResponse{}
		for _, id := range ids {
			if p, ok := s.products[id]; ok {
				resp.Products = append(resp.Products, p)
			} else {
				resp.Unresolved = append(resp.Unresolved, id)
			}
		}
		s.mutex.RUnlock()

		if err != nil {
			obs.RequestFailed(err)
			return
		}
		obs.CatalogReceived(resp)
	})
}

func (s *Store) RefreshCredential(obs store.Observer) store.Request {
	return s.newRequest(obs, func(obs store.Observer) {
		s.mutex.Lock()
		err := s.refreshErr
		if err == nil {
			s.refreshCount++
		}
		s.mutex.Unlock()

		if err != nil {
			obs.RequestFailed(err)
			return
		}
		obs.RequestFinished()
	})
}

func (s *Store) newRequest(obs store.Observer, deliver func(store.Observer)) *request {
	return &request{store: s, obs: obs, deliver: deliver, canceled: make(chan struct{})}
}

type request struct {
	store   *Store
	obs     store.Observer
	deliver func(store.Observer)

	mutex    sync.Mutex
	started  bool
	canceled chan struct{}
}

func (r *request) Start() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	if r.started {
		return
	}
	r.started = true

	r.store.pendingEvents.Add(1)
	go func() {
		defer r.store.pendingEvents.Done()
		timer := time.NewTimer(r.store.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-r.canceled:
			return
		}
		select {
		case <-r.canceled:
			return
		default:
		}
		r.deliver(r.obs)
	}()
}

func (r *request) Cancel() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	select {
	case <-r.canceled:
	default:
		close(r.canceled)
	}
}
