package inmemdb

import (
	"context"
	"time"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/institution"
)

type statsRepository struct {
	db *DB
}

var _ institution.Repository = (*statsRepository)(nil) // interface compliance check

func NewStatsRepository(db *DB) institution.Repository {
	return &statsRepository{db: db}
}

// row returns the stats of inst, creating them if needed. The caller must hold the write lock.
func (repo *statsRepository) row(inst string) *institution.Stats {
	stats, ok := repo.db.stats[inst]
	if !ok {
		stats = &institution.Stats{Institution: inst, UpdatedAt: time.Now().UTC()}
		repo.touch(stats)
		repo.db.stats[inst] = stats
	}
	return stats
}

// touch stamps stats with the next version. The caller must hold the write lock.
func (repo *statsRepository) touch(stats *institution.Stats) {
	repo.db.statsVersion++
	stats.Version = repo.db.statsVersion
	stats.UpdatedAt = time.Now().UTC()
}

func (repo *statsRepository) GetStats(_ context.Context, inst string, _ ...core.DBExecutor) (institution.Stats, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if stats, ok := repo.db.stats[inst]; ok {
		return *stats, nil
	}
	return institution.Stats{Institution: inst}, nil
}

// LockStats only ensures the stats exist; InTx already serializes the transactions.
func (repo *statsRepository) LockStats(_ context.Context, inst string, _ ...core.DBExecutor) (institution.Stats, error) {
	repo.db.Lock()
	defer repo.db.Unlock()
	return *repo.row(inst), nil
}

func (repo *statsRepository) AddEvaluation(_ context.Context, inst string, summary, tag int, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	stats := repo.row(inst)
	stats.Add(summary, tag)
	repo.touch(stats)
	return nil
}

func (repo *statsRepository) AdjustEvaluation(_ context.Context, inst string, dSummary, dTag int, _ ...core.DBExecutor) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	stats := repo.row(inst)
	stats.Adjust(dSummary, dTag)
	repo.touch(stats)
	return nil
}

func (repo *statsRepository) RecomputeStats(_ context.Context, inst string, _ ...core.DBExecutor) (institution.Stats, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	stats := institution.Stats{Institution: inst}
	for key, ev := range repo.db.evaluations {
		if key.institution == inst {
			stats.Add(ev.SummaryScore, ev.TagScore)
		}
	}
	repo.touch(&stats)
	repo.db.stats[inst] = &stats
	return stats, nil
}
