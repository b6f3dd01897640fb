package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/analysis"
	"github.com/iroils/evalapp/core/entry"
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
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	// set up cache
	var (
		entryCache entry.Cache
		statsCache institution.Cache
		store      analysis.Store
	)
	if conf.Redis.Enabled {
		cache, err := rediscache.Open(context.Background(), conf)
		if err != nil {
			logger.Fatal(fmt.Sprintf("setting up cache: %v", err), err)
		}
		defer cache.Close()
		entryCache, statsCache, store = cache, cache, cache
	}

	// set up services
	tx := database.NewTransactor(db)
	usrRepo := sqlxrepos.NewUserRepository(db)
	entryRepo := sqlxrepos.NewEntryRepository(db)
	metrics := metricsvc.NewManager(prometheus.NewRegistry())
	mailSvc := emailsvc.NewService(conf, logger)
	entrySvc := entry.NewService(entry.Deps{
		Tx:      tx,
		Repo:    entryRepo,
		UserSvc: user.NewService(usrRepo, mailSvc, conf),
		MailSvc: mailSvc,
		Logger:  logger,
		Metrics: metrics,
		Cache:   entryCache,
	})
	analysisSvc := analysis.NewService(analysis.Deps{
		Tx:         tx,
		Entries:    entryRepo,
		EntrySvc:   entrySvc,
		Evals:      sqlxrepos.NewEvaluationRepository(db),
		StatsRepo:  sqlxrepos.NewStatsRepository(db),
		Reports:    boiledrepos.NewReportRepository(db),
		Logger:     logger,
		Metrics:    metrics,
		Store:      store,
		StatsCache: statsCache,
	})

	// start CLI
	cli := commandLine{
		db:          db.DB,
		usrRepo:     usrRepo,
		analysisSvc: analysisSvc,
		out:         os.Stdout,
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("\nerror: %s\n", err), err)
		}
		logger.Wait()
		os.Exit(1)
	}
}
