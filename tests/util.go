package testutil

import (
	"context"
	"fmt"
	"io"
	"log"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

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
	inmemdb "github.com/iroils/evalapp/storage/database/inmem"
)

// Env wires the services on top of the in-memory repositories and, optionally, a miniredis cache.
type Env struct {
	Conf       *core.Config
	Logger     core.Logger
	Metrics    *metricsvc.Manager
	Validate   *validator.Validate
	Translator ut.Translator

	DB          *inmemdb.DB
	Tx          core.Transactor
	Users       user.Repository
	Entries     entry.Repository
	Evaluations evaluation.Repository
	Stats       institution.Repository
	Reports     analysis.ReportRepository

	Redis *miniredis.Miniredis // nil without cache
	Cache *rediscache.Cache    // nil without cache

	UserSvc       user.Service
	EntrySvc      entry.Service
	EvaluationSvc evaluation.Service
	AnalysisSvc   analysis.Service
}

func NewLogger(conf *core.Config) core.Logger {
	return logsvc.NewRollbarLogger(log.New(io.Discard, "TEST : ", log.LstdFlags), conf)
}

func NewTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}

// NewValidator returns a validator with every custom validation registered.
func NewValidator(logger core.Logger) (*validator.Validate, ut.Translator) {
	validate := validator.New()
	translator := NewTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	entry.InitValidators(validate, translator)
	user.LoadCommonPasswords(logger)
	return validate, translator
}

func NewEnv(t *testing.T, withCache bool) *Env {
	t.Helper()

	env := &Env{Conf: core.NewTestConfig()}
	env.Logger = NewLogger(env.Conf)
	env.Metrics = metricsvc.NewManager(prometheus.NewRegistry())
	env.Validate, env.Translator = NewValidator(env.Logger)
	core.ParseEmailTemplates(env.Conf, env.Logger)
	emailsvc.ResetSentMessages()

	env.DB = inmemdb.Open()
	env.Tx = inmemdb.NewTransactor(env.DB)
	env.Users = inmemdb.NewUserRepository(env.DB)
	env.Entries = inmemdb.NewEntryRepository(env.DB)
	env.Evaluations = inmemdb.NewEvaluationRepository(env.DB)
	env.Stats = inmemdb.NewStatsRepository(env.DB)
	env.Reports = inmemdb.NewReportRepository(env.DB)

	var (
		entryCache entry.Cache
		evalCache  evaluation.Cache
		statsCache institution.Cache
		store      analysis.Store
	)
	if withCache {
		env.Redis = miniredis.RunT(t)
		client := redis.NewClient(&redis.Options{Addr: env.Redis.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		env.Cache = rediscache.New(client, env.Conf)
		entryCache, evalCache, statsCache, store = env.Cache, env.Cache, env.Cache, env.Cache
	}

	mailSvc := emailsvc.NewConsoleServiceMock(env.Conf, env.Logger)
	env.UserSvc = user.NewServiceMock(env.Users, mailSvc, env.Conf)
	env.EntrySvc = entry.NewService(entry.Deps{
		Tx:      env.Tx,
		Repo:    env.Entries,
		UserSvc: env.UserSvc,
		MailSvc: mailSvc,
		Logger:  env.Logger,
		Metrics: env.Metrics,
		Cache:   entryCache,
	})
	env.EvaluationSvc = evaluation.NewService(evaluation.Deps{
		Tx:         env.Tx,
		Repo:       env.Evaluations,
		StatsRepo:  env.Stats,
		EntrySvc:   env.EntrySvc,
		Logger:     env.Logger,
		Metrics:    env.Metrics,
		Cache:      evalCache,
		StatsCache: statsCache,
	})
	env.AnalysisSvc = analysis.NewService(analysis.Deps{
		Tx:         env.Tx,
		Entries:    env.Entries,
		EntrySvc:   env.EntrySvc,
		Evals:      env.Evaluations,
		StatsRepo:  env.Stats,
		Reports:    env.Reports,
		Logger:     env.Logger,
		Metrics:    env.Metrics,
		Store:      store,
		StatsCache: statsCache,
	})
	return env
}

func CreateUser(
	t *testing.T,
	repo user.Repository,
	name, uname, email, inst, pwd string,
	roles []string,
	isActive bool,
	createdAt ...time.Time,
) user.User {
	t.Helper()

	tstamp := time.Now().UTC()
	if len(createdAt) > 0 {
		tstamp = createdAt[0].UTC()
	}
	if roles == nil {
		roles = []string{}
	}
	usr := user.User{
		Name:        name,
		Username:    uname,
		Email:       email,
		Institution: inst,
		Roles:       roles,
		IsActive:    isActive,
		CreatedAt:   tstamp,
		UpdatedAt:   tstamp,
	}
	if pwd != "" {
		if err := usr.SetPassword(pwd); err != nil {
			t.Fatalf("CreateUser() failed: %v", err)
		}
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed: %v", err)
	}
	return usr
}

// CreateEntry creates the Entry `number` of inst, carrying tags.
func CreateEntry(t *testing.T, repo entry.Repository, inst, number string, selected bool, tags ...string) entry.Entry {
	t.Helper()

	now := time.Now().UTC()
	ent := entry.Entry{
		Institution: inst,
		EventNumber: number,
		Data: map[string]interface{}{
			entry.KeyEventNumber: number,
			entry.KeyNarrative:   "Narrative of " + number,
			entry.KeySummary:     "Summary of " + number,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if len(tags) > 0 {
		tagList := make([]interface{}, 0, len(tags))
		for _, tag := range tags {
			tagList = append(tagList, tag)
		}
		ent.Data[entry.KeyTags] = tagList
	}
	ent.SetSelection(selected)

	if _, err := repo.UpsertEntries(context.Background(), []entry.Entry{ent}); err != nil {
		t.Fatalf("CreateEntry() failed: %v", err)
	}
	ent, err := repo.GetEntry(context.Background(), inst, number)
	if err != nil {
		t.Fatalf("CreateEntry() failed: %v", err)
	}
	return ent
}

// CreateEntries creates n entries of inst numbered EV-001, EV-002, ..., the first `selected` of which are selected.
func CreateEntries(t *testing.T, repo entry.Repository, inst string, n, selected int) []entry.Entry {
	t.Helper()

	entries := make([]entry.Entry, 0, n)
	for i := 1; i <= n; i++ {
		entries = append(entries, CreateEntry(t, repo, inst, fmt.Sprintf("EV-%03d", i), i <= selected))
	}
	return entries
}

// CreateEvaluation saves an Evaluation, keeping the institution stats in sync.
func CreateEvaluation(
	t *testing.T,
	repo evaluation.Repository,
	statsRepo institution.Repository,
	inst, evaluator, entryNumber string,
	summary, tag int,
) evaluation.Evaluation {
	t.Helper()

	ctx := context.Background()
	now := time.Now().UTC()
	ev, err := repo.UpsertEvaluation(ctx, evaluation.Evaluation{
		Institution:  inst,
		Evaluator:    evaluator,
		EntryNumber:  entryNumber,
		SummaryScore: summary,
		TagScore:     tag,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		t.Fatalf("CreateEvaluation() failed: %v", err)
	}
	if err = statsRepo.AddEvaluation(ctx, inst, summary, tag); err != nil {
		t.Fatalf("CreateEvaluation() failed: %v", err)
	}
	return ev
}
