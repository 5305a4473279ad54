package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"store_bridge/http_store"
	"store_bridge/memory_store"
	"store_bridge/store"
	"store_bridge/utils"
	"syscall"
	"time"

	"github.com/ansel1/merry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type storeKind string

const (
	storeHTTP   storeKind = "http"
	storeMemory storeKind = "memory"
)

type Config struct {
	Env            utils.Env
	ServerAddr     string
	Store          utils.OptionValue[storeKind]
	StoreURL       string
	FixturesFPath  string
	DBFPath        string
	SessionTimeout time.Duration
	RefreshEvery   time.Duration
	InitCredential utils.PairValue
}

func makeStore(cfg *Config, configDir string) (store.Service, error) {
	switch *cfg.Store.Value {
	case storeHTTP:
		if cfg.StoreURL == "" {
			return nil, merry.New("-store-url is required for http store")
		}
		client := http_store.NewClient(cfg.StoreURL, configDir, nil)
		if cfg.InitCredential.IsSet {
			if err := client.InitCredential(cfg.InitCredential.First, cfg.InitCredential.Second); err != nil {
				return nil, merry.Wrap(err)
			}
			log.Info().Msg("credential saved, it will be refreshed on start")
		} else if err := client.LoadCredential(); merry.Is(err, store.ErrCredentialNotFound) {
			log.Warn().Msg("no credential found, catalog queries will be anonymous; use -init-credential")
		} else if err != nil {
			return nil, merry.Wrap(err)
		}
		return client, nil
	case storeMemory:
		if cfg.FixturesFPath == "" {
			log.Warn().Msg("memory store without fixtures, every product will be unresolved")
			return memory_store.New(nil), nil
		}
		return memory_store.LoadFixtures(cfg.FixturesFPath)
	default:
		return nil, merry.Errorf("unexpected store kind %s", *cfg.Store.Value)
	}
}

func run(cfg *Config) error {
	configDir, err := utils.MakeConfigDir()
	if err != nil {
		return merry.Wrap(err)
	}
	if cfg.DBFPath == "" {
		cfg.DBFPath = configDir + "/main.db"
	}

	db, err := setupDB(cfg.DBFPath)
	if err != nil {
		return merry.Wrap(err)
	}
	defer db.Close()

	svc, err := makeStore(cfg, configDir)
	if err != nil {
		return merry.Wrap(err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := NewMetrics(registry)
	bridge := NewBridge(db, svc, metrics)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	updaterTrigger := make(chan struct{}, 16)
	updaterErr := make(chan error, 1)
	if cfg.RefreshEvery > 0 {
		updater := NewUpdater(bridge, cfg.RefreshEvery)
		updater.Timeout = cfg.SessionTimeout
		go func() {
			updaterErr <- StartUpdater(ctx, updater, updaterTrigger)
		}()
	}

	srv := &Server{bridge: bridge, sessionTimeout: cfg.SessionTimeout, updaterTrigger: updaterTrigger}
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- StartHTTPServer(cfg.ServerAddr, NewRouter(cfg.Env, db, srv, registry))
	}()

	select {
	case err := <-serverErr:
		return merry.Wrap(err)
	case err := <-updaterErr:
		return merry.Wrap(err)
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		return nil
	}
}

func main() {
	cfg := &Config{
		Env: utils.Env{Val: "dev"},
		Store: utils.OptionValue[storeKind]{
			Options: []storeKind{storeHTTP, storeMemory},
			ToStr:   func(k storeKind) string { return string(k) },
		},
	}
	cfg.Store.Set(string(storeMemory))

	flag.Var(&cfg.Env, "env", "evironment, dev or prod")
	flag.StringVar(&cfg.ServerAddr, "addr", "127.0.0.1:9020", "HTTP server address:port")
	flag.Var(&cfg.Store, "store", "store backend: "+cfg.Store.JoinStrings(", "))
	flag.StringVar(&cfg.StoreURL, "store-url", "", "remote store base URL (for http store)")
	flag.StringVar(&cfg.FixturesFPath, "fixtures", "", "path to products JSON (for memory store)")
	flag.StringVar(&cfg.DBFPath, "db", "", "path to sqlite DB, defaults to <config dir>/main.db")
	flag.DurationVar(&cfg.SessionTimeout, "timeout", 30*time.Second, "max time to wait for a store response")
	flag.DurationVar(&cfg.RefreshEvery, "refresh-every", 10*time.Minute, "credential refresh interval, 0 to disable")
	flag.Var(&cfg.InitCredential, "init-credential", "save new credential as refreshToken:clientSecret (for http store)")
	flag.Parse()

	// Logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
	zerolog.ErrorStackMarshaler = func(err error) interface{} { return merry.Details(err) }
	zerolog.ErrorStackFieldName = "message" //TODO: https://github.com/rs/zerolog/issues/157
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "2006-01-02 15:04:05.000"})
	if cfg.Env.IsProd() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := run(cfg); err != nil {
		log.Fatal().Stack().Err(err).Msg("")
	}
}
