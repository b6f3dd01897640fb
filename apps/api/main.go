package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"

	echoapi "github.com/iroils/evalapp/apps/api/echo"
	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/analysis"
	"github.com/iroils/evalapp/core/entry"
	"github.com/iroils/evalapp/core/evaluation"
	"github.com/iroils/evalapp/core/institution"
	"github.com/iroils/evalapp/core/user"
	emailsvc "github.com/iroils/evalapp/services/email"
	logsvc "github.com/iroils/evalapp/services/logger"
	metricsvc "github.com/iroils/evalapp/services/metrics"
	rediscache "github.com/iroils/evalapp/storage/cache/redis"
	"github.com/iroils/evalapp/storage/database"
	boiledrepos "github.com/iroils/evalapp/storage/database/sqlboiler"
	sqlxrepos "github.com/iroils/evalapp/storage/database/sqlx"
)

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := newLogger("API", conf)
	dbLogger := newLogger("DB", conf)
	cacheLogger := newLogger("CACHE", conf)
	defer logger.Wait()

	// set up DB
	db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// set up cache
	var (
		entryCache entry.Cache
		evalCache  evaluation.Cache
		statsCache institution.Cache
		store      analysis.Store
	)
	if conf.Redis.Enabled {
		cache, err := rediscache.Open(context.Background(), conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up cache: %v", err), err)
		}
		defer func() {
			if err := cache.Close(); err != nil {
				cacheLogger.Error("Failed to close", err)
			}
		}()
		entryCache, evalCache, statsCache, store = cache, cache, cache, cache
		cacheLogger.Info(fmt.Sprintf("Connected to %s", conf.Redis.Address))
	} else {
		cacheLogger.Info("Disabled")
	}

	// set up repositories
	tx := database.NewTransactor(db)
	usrRepo := sqlxrepos.NewUserRepository(db)
	entryRepo := sqlxrepos.NewEntryRepository(db)
	evalRepo := sqlxrepos.NewEvaluationRepository(db)
	statsRepo := sqlxrepos.NewStatsRepository(db)
	reportRepo := boiledrepos.NewReportRepository(db)

	// set up services
	metrics := metricsvc.NewManager(prometheus.NewRegistry())
	mailSvc := emailsvc.NewService(conf, logger)
	usrSvc := user.NewService(usrRepo, mailSvc, conf)
	entrySvc := entry.NewService(entry.Deps{
		Tx:      tx,
		Repo:    entryRepo,
		UserSvc: usrSvc,
		MailSvc: mailSvc,
		Logger:  logger,
		Metrics: metrics,
		Cache:   entryCache,
	})
	evalSvc := evaluation.NewService(evaluation.Deps{
		Tx:         tx,
		Repo:       evalRepo,
		StatsRepo:  statsRepo,
		EntrySvc:   entrySvc,
		Logger:     logger,
		Metrics:    metrics,
		Cache:      evalCache,
		StatsCache: statsCache,
	})
	analysisSvc := analysis.NewService(analysis.Deps{
		Tx:         tx,
		Entries:    entryRepo,
		EntrySvc:   entrySvc,
		Evals:      evalRepo,
		StatsRepo:  statsRepo,
		Reports:    reportRepo,
		Logger:     logger,
		Metrics:    metrics,
		Store:      store,
		StatsCache: statsCache,
	})

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	entry.InitValidators(validate, translator)

	core.ParseEmailTemplates(conf, logger)

	user.LoadCommonPasswords(logger)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
	// /debug/vars - Added to the default mux by importing the expvar package.
	// /metrics - Prometheus metrics.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	http.Handle("/metrics", metrics.Handler())

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:          conf,
			Logger:        logger,
			Metrics:       metrics,
			UserSvc:       usrSvc,
			EntrySvc:      entrySvc,
			EvaluationSvc: evalSvc,
			AnalysisSvc:   analysisSvc,
			Validate:      validate,
			Translator:    translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

func newLogger(prefix string, conf *core.Config) *logsvc.RollbarLogger {
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, prefix+" : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)
	return logger
}

func setUpDB(conf *core.Config) (*sqlx.DB, error) {
	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, err
	}

	if err = database.Migrate(db.DB); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
