package main

import (
	"context"
	"database/sql"
	"store_bridge/store"
	"sync/atomic"
	"time"

	"github.com/ansel1/merry"
	"github.com/rs/zerolog/log"
)

var ErrSessionTimeout = merry.New("store session timed out")

// Bridge runs store sessions on behalf of HTTP handlers and the updater,
// waits for their single result and records it in the DB and metrics.
type Bridge struct {
	db      *sql.DB
	svc     store.Service
	metrics *Metrics
}

func NewBridge(db *sql.DB, svc store.Service, metrics *Metrics) *Bridge {
	return &Bridge{db: db, svc: svc, metrics: metrics}
}

// settler makes sure a session is counted once, either by its completion
// event or by the caller giving up on it.
type settler struct {
	done      atomic.Bool
	kind      string
	startedAt time.Time
	metrics   *Metrics
}

func (b *Bridge) newSettler(kind store.Kind) *settler {
	b.metrics.SessionsInFlight.WithLabelValues(kind.String()).Inc()
	return &settler{kind: kind.String(), startedAt: time.Now(), metrics: b.metrics}
}

func (s *settler) settle(outcome string) {
	if !s.done.CompareAndSwap(false, true) {
		return
	}
	s.metrics.SessionsInFlight.WithLabelValues(s.kind).Dec()
	s.metrics.SessionsTotal.WithLabelValues(s.kind, outcome).Inc()
	if outcome != OutcomeCanceled {
		s.metrics.SessionDuration.WithLabelValues(s.kind).Observe(time.Since(s.startedAt).Seconds())
	}
}

func (b *Bridge) QueryCatalog(ctx context.Context, ids []store.ProductID) (store.CatalogResult, error) {
	results := make(chan store.CatalogResult, 1)
	set := b.newSettler(store.KindCatalog)

	var sess *store.Session
	sess, err := store.NewCatalogSession(b.svc, ids, func(res store.CatalogResult) {
		b.onCatalogComplete(sess, set, res)
		results <- res
	})
	if err != nil {
		set.settle(OutcomeFailure)
		return store.CatalogResult{}, merry.Wrap(err)
	}
	b.journalStart(sess)
	sess.Start()

	select {
	case res := <-results:
		return res, nil
	case <-ctx.Done():
		b.giveUp(sess, set)
		return store.CatalogResult{}, ErrSessionTimeout.Here().Append(ctx.Err().Error())
	}
}

func (b *Bridge) RefreshCredential(ctx context.Context) (store.RefreshResult, error) {
	results := make(chan store.RefreshResult, 1)
	set := b.newSettler(store.KindRefresh)

	// the store may answer before NewRefreshSession returns,
	// recording is postponed until the session is journaled then
	sessReady := make(chan *store.Session, 1)
	sess := store.NewRefreshSession(b.svc, func(res store.RefreshResult) {
		record := func(s *store.Session) {
			b.onRefreshComplete(s, set, res)
			results <- res
		}
		select {
		case s := <-sessReady:
			record(s)
		default:
			go func() { record(<-sessReady) }()
		}
	})
	b.journalStart(sess)
	sessReady <- sess

	select {
	case res := <-results:
		return res, nil
	case <-ctx.Done():
		b.giveUp(sess, set)
		return store.RefreshResult{}, ErrSessionTimeout.Here().Append(ctx.Err().Error())
	}
}

func (b *Bridge) giveUp(sess *store.Session, set *settler) {
	log.Warn().Str("session", sess.ID()).Stringer("kind", sess.Kind()).Msg("store session timed out, canceling")
	sess.Cancel()
	set.settle(OutcomeCanceled)
	if err := journalSessionEnd(b.db, sess.ID(), OutcomeCanceled, "", 0); err != nil {
		log.Error().Stack().Err(err).Msg("")
	}
}

func (b *Bridge) journalStart(sess *store.Session) {
	if err := journalSessionStart(b.db, sess); err != nil {
		log.Error().Stack().Err(err).Str("session", sess.ID()).Msg("can not journal session start")
	}
}

func (b *Bridge) onCatalogComplete(sess *store.Session, set *settler, res store.CatalogResult) {
	if !res.IsSuccess() {
		log.Warn().Err(res.Err).Str("session", sess.ID()).Msg("catalog query failed")
		set.settle(OutcomeFailure)
		if err := journalSessionEnd(b.db, sess.ID(), OutcomeFailure, res.Err.Error(), 0); err != nil {
			log.Error().Stack().Err(err).Msg("")
		}
		return
	}

	log.Info().Str("session", sess.ID()).
		Int("resolved", len(res.Products)).Int("unresolved", len(res.Unresolved)).
		Msg("catalog query done")
	set.settle(OutcomeSuccess)
	b.metrics.ProductsResolved.Add(float64(len(res.Products)))
	b.metrics.ProductsMissing.Add(float64(len(res.Unresolved)))

	if err := saveProducts(b.db, res.SortedProducts()); err != nil {
		log.Error().Stack().Err(err).Msg("can not cache products")
	}
	if err := journalSessionEnd(b.db, sess.ID(), OutcomeSuccess, "", len(res.Unresolved)); err != nil {
		log.Error().Stack().Err(err).Msg("")
	}
}

func (b *Bridge) onRefreshComplete(sess *store.Session, set *settler, res store.RefreshResult) {
	outcome, errText := OutcomeSuccess, ""
	if !res.IsSuccess() {
		outcome, errText = OutcomeFailure, res.Failure.String()
	}
	log.Info().Str("session", sess.ID()).Str("outcome", outcome).Msg("credential refresh done")
	set.settle(outcome)
	if err := journalSessionEnd(b.db, sess.ID(), outcome, errText, 0); err != nil {
		log.Error().Stack().Err(err).Msg("")
	}
}
