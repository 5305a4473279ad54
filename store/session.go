package store

import (
	"sync"

	"github.com/ansel1/merry"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Kind int

const (
	KindCatalog Kind = iota
	KindRefresh
)

func (k Kind) String() string {
	switch k {
	case KindCatalog:
		return "catalog"
	case KindRefresh:
		return "refresh"
	default:
		return "unknown"
	}
}

type State int

const (
	Pending State = iota
	InFlight
	Completed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case InFlight:
		return "in_flight"
	case Completed:
		return "completed"
	default:
		return "unknown"
	}
}

// Session owns exactly one store request and reports its outcome exactly once.
// It is the Observer of its own request: the store may deliver events from any
// goroutine, and any number of them, only the first one counts.
type Session struct {
	id   string
	kind Kind
	ids  []ProductID

	mutex      sync.Mutex
	state      State
	request    Request
	onCatalog  func(CatalogResult)
	onRefresh  func(RefreshResult)
	lastResult *CatalogResult
}

// NewCatalogSession prepares a catalog query for ids. Nothing is sent to the
// store until Start is called.
func NewCatalogSession(svc Service, ids []ProductID, onComplete func(CatalogResult)) (*Session, error) {
	ids = NormalizeProductIDs(ids)
	if len(ids) == 0 {
		return nil, ErrNoProductIDs.Here()
	}
	if onComplete == nil {
		return nil, merry.New("catalog session: completion callback is required")
	}
	s := &Session{
		id:        uuid.NewString(),
		kind:      KindCatalog,
		ids:       ids,
		state:     Pending,
		onCatalog: onComplete,
	}
	s.request = svc.QueryCatalog(ids, s)
	return s, nil
}

// NewRefreshSession asks the store to refresh the purchase credential. The
// request is dispatched before the function returns.
func NewRefreshSession(svc Service, onComplete func(RefreshResult)) *Session {
	s := &Session{
		id:        uuid.NewString(),
		kind:      KindRefresh,
		state:     InFlight,
		onRefresh: onComplete,
	}
	req := svc.RefreshCredential(s)

	s.mutex.Lock()
	// the store might have answered synchronously from inside RefreshCredential
	done := s.state == Completed
	if !done {
		s.request = req
	}
	s.mutex.Unlock()
	if done {
		req.Cancel()
		return s
	}

	log.Debug().Str("session", s.id).Msg("store: starting credential refresh")
	req.Start()
	return s
}

func (s *Session) ID() string {
	return s.id
}

func (s *Session) Kind() Kind {
	return s.kind
}

// ProductIDs returns the normalized ids of a catalog session.
func (s *Session) ProductIDs() []ProductID {
	return s.ids
}

func (s *Session) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

func (s *Session) IsCompleted() bool {
	return s.State() == Completed
}

// CachedResult returns the result of a completed catalog session.
func (s *Session) CachedResult() (CatalogResult, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.lastResult == nil {
		return CatalogResult{}, false
	}
	return *s.lastResult, true
}

// Start sends a catalog query. Refresh sessions start on their own, repeated
// calls and calls after completion are ignored.
func (s *Session) Start() {
	s.mutex.Lock()
	if s.state != Pending || s.request == nil {
		state := s.state
		s.mutex.Unlock()
		log.Debug().Str("session", s.id).Stringer("kind", s.kind).Stringer("state", state).Msg("store: start ignored")
		return
	}
	s.state = InFlight
	req := s.request
	s.mutex.Unlock()

	log.Debug().Str("session", s.id).Int("ids", len(s.ids)).Msg("store: starting catalog query")
	req.Start()
}

// Cancel asks the store to abandon the request. It returns immediately and
// changes nothing locally: the callback is not invoked here, and an event the
// store has already produced may still arrive and complete the session.
func (s *Session) Cancel() {
	s.mutex.Lock()
	req := s.request
	s.mutex.Unlock()
	if req != nil {
		log.Debug().Str("session", s.id).Stringer("kind", s.kind).Msg("store: canceling")
		req.Cancel()
	}
}

func (s *Session) CatalogReceived(resp CatalogResponse) {
	switch s.kind {
	case KindCatalog:
		res, extra := buildCatalogResult(s.ids, resp)
		if len(extra) > 0 {
			log.Debug().Str("session", s.id).Interface("ids", extra).Msg("store: dropping products that were not queried")
		}
		s.completeCatalog(res)
	case KindRefresh:
		log.Warn().Str("session", s.id).Msg("store: catalog response for refresh session, dropped")
	}
}

func (s *Session) RequestFinished() {
	switch s.kind {
	case KindCatalog:
		// catalog sessions complete on CatalogReceived
	case KindRefresh:
		s.completeRefresh(RefreshSuccess())
	}
}

func (s *Session) RequestFailed(err error) {
	switch s.kind {
	case KindCatalog:
		s.completeCatalog(CatalogFailure(err))
	case KindRefresh:
		log.Warn().Str("session", s.id).Err(err).Msg("store: credential refresh failed")
		s.completeRefresh(RefreshFailure(RefreshFailed))
	}
}

// finish moves the session to Completed and hands back the request and the
// callbacks it held, leaving none of them behind. ok is false if the session
// had already completed.
func (s *Session) finish(cache *CatalogResult) (fin finished, ok bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.state == Completed {
		return fin, false
	}
	s.state = Completed
	if cache != nil {
		s.lastResult = cache
	}
	fin = finished{request: s.request, onCatalog: s.onCatalog, onRefresh: s.onRefresh}
	s.request = nil
	s.onCatalog = nil
	s.onRefresh = nil
	return fin, true
}

type finished struct {
	request   Request
	onCatalog func(CatalogResult)
	onRefresh func(RefreshResult)
}

func (s *Session) completeCatalog(res CatalogResult) {
	fin, ok := s.finish(&res)
	if !ok {
		log.Debug().Str("session", s.id).Msg("store: duplicate catalog event ignored")
		return
	}
	log.Debug().Str("session", s.id).Bool("success", res.IsSuccess()).Msg("store: catalog session completed")
	if fin.onCatalog != nil {
		fin.onCatalog(res)
	}
}

func (s *Session) completeRefresh(res RefreshResult) {
	fin, ok := s.finish(nil)
	if !ok {
		log.Debug().Str("session", s.id).Msg("store: duplicate refresh event ignored")
		return
	}
	log.Debug().Str("session", s.id).Bool("success", res.IsSuccess()).Msg("store: refresh session completed")
	if fin.onRefresh != nil {
		fin.onRefresh(res)
	}
	if fin.request != nil {
		fin.request.Cancel()
	}
}
