package main

import (
	"context"
	"database/sql"
	"net/http"
	"store_bridge/store"
	"store_bridge/utils"
	"strconv"
	"strings"
	"time"

	httputils "github.com/3bl3gamer/go-http-utils"
	"github.com/ansel1/merry"
	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

type ctxKey string

const CtxKeyEnv = ctxKey("env")
const CtxKeyDB = ctxKey("db")

type Server struct {
	bridge         *Bridge
	sessionTimeout time.Duration
	updaterTrigger chan struct{}
}

func parseProductIDs(values []string) []store.ProductID {
	var ids []store.ProductID
	for _, value := range values {
		for _, id := range strings.Split(value, ",") {
			ids = append(ids, store.ProductID(id))
		}
	}
	return store.NormalizeProductIDs(ids)
}

func (s *Server) HandleAPIProducts(wr http.ResponseWriter, r *http.Request, ps httprouter.Params) (interface{}, error) {
	ids := parseProductIDs(r.URL.Query()["ids"])
	if len(ids) == 0 {
		return httputils.JsonError{Code: 400, Error: "MISSING_IDS"}, nil
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.sessionTimeout)
	defer cancel()

	res, err := s.bridge.QueryCatalog(ctx, ids)
	if merry.Is(err, ErrSessionTimeout) {
		return httputils.JsonError{Code: 504, Error: "TIMEOUT"}, nil
	}
	if err != nil {
		return nil, merry.Wrap(err)
	}
	if !res.IsSuccess() {
		return httputils.JsonError{Code: 502, Error: "STORE_ERROR", Description: res.Err.Error()}, nil
	}
	return res, nil
}

func (s *Server) HandleAPIRefresh(wr http.ResponseWriter, r *http.Request, ps httprouter.Params) (interface{}, error) {
	if async := r.URL.Query().Get("async"); async != "" && async != "0" {
		select {
		case s.updaterTrigger <- struct{}{}:
		default:
			log.Debug().Msg("updater trigger already pending")
		}
		return "ok", nil
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.sessionTimeout)
	defer cancel()

	res, err := s.bridge.RefreshCredential(ctx)
	if merry.Is(err, ErrSessionTimeout) {
		return httputils.JsonError{Code: 504, Error: "TIMEOUT"}, nil
	}
	if err != nil {
		return nil, merry.Wrap(err)
	}
	if !res.IsSuccess() {
		return httputils.JsonError{Code: 502, Error: "REFRESH_FAILED", Description: res.Failure.String()}, nil
	}
	return res, nil
}

func HandleAPICachedProducts(wr http.ResponseWriter, r *http.Request, ps httprouter.Params) (interface{}, error) {
	db := r.Context().Value(CtxKeyDB).(*sql.DB)

	beforeID := int64(0)
	if beforeIDStr := r.URL.Query().Get("before_id"); beforeIDStr != "" {
		var err error
		beforeID, err = strconv.ParseInt(beforeIDStr, 10, 64)
		if err != nil {
			return httputils.JsonError{Code: 400, Error: "WRONG_NUMBER_FORMAT"}, nil
		}
	}

	products, err := loadCachedProducts(db, beforeID, 50)
	if err != nil {
		return nil, merry.Wrap(err)
	}
	if products == nil {
		products = []*CachedProduct{}
	}
	return products, nil
}

func HandleAPISessions(wr http.ResponseWriter, r *http.Request, ps httprouter.Params) (interface{}, error) {
	db := r.Context().Value(CtxKeyDB).(*sql.DB)
	entries, err := loadJournal(db, 50)
	if err != nil {
		return nil, merry.Wrap(err)
	}
	if entries == nil {
		entries = []*JournalEntry{}
	}
	return entries, nil
}

func NewRouter(env utils.Env, db *sql.DB, srv *Server, registry *prometheus.Registry) http.Handler {
	wrapper := &httputils.Wrapper{
		ShowErrorDetails: env.IsDev(),
		ExtraChainItem: func(handle httputils.HandlerExt) httputils.HandlerExt {
			return func(wr http.ResponseWriter, r *http.Request, params httprouter.Params) error {
				log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Msg("request")
				r = r.WithContext(context.WithValue(r.Context(), CtxKeyEnv, env))
				r = r.WithContext(context.WithValue(r.Context(), CtxKeyDB, db))
				return merry.Wrap(handle(wr, r, params))
			}
		},
		LogError: func(err error, r *http.Request) {
			log.Error().Stack().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("")
		},
	}

	router := httprouter.New()
	route := func(method, path string, chain ...interface{}) {
		router.Handle(method, path, wrapper.WrapChain(chain...))
	}

	// Routes
	route("GET", "/api/products", srv.HandleAPIProducts)
	route("GET", "/api/products/cached", HandleAPICachedProducts)
	route("POST", "/api/credential/refresh", srv.HandleAPIRefresh)
	route("GET", "/api/sessions", HandleAPISessions)
	router.Handler("GET", "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	if env.IsDev() {
		route("GET", "/api/explode", func(wr http.ResponseWriter, r *http.Request, ps httprouter.Params) (interface{}, error) {
			return nil, merry.New("test API error")
		})
	}
	return router
}

func StartHTTPServer(address string, handler http.Handler) error {
	log.Info().Str("address", address).Msg("starting server")
	return merry.Wrap(http.ListenAndServe(address, handler))
}
