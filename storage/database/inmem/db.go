package inmemdb

import (
	"context"
	"sync"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/entry"
	"github.com/iroils/evalapp/core/evaluation"
	"github.com/iroils/evalapp/core/institution"
	"github.com/iroils/evalapp/core/user"
)

type (
	entryKey struct {
		institution, eventNumber string
	}

	evaluationKey struct {
		institution, evaluator, entryNumber string
	}

	// DB is an in-memory database used by tests and local runs.
	DB struct {
		sync.RWMutex
		txMutex sync.Mutex

		users       map[string]*user.User
		entries     map[entryKey]*entry.Entry
		evaluations map[evaluationKey]*evaluation.Evaluation
		stats       map[string]*institution.Stats

		entrySeq      int64
		evaluationSeq int64
		statsVersion  int64
	}
)

func Open() *DB {
	return &DB{
		users:       make(map[string]*user.User),
		entries:     make(map[entryKey]*entry.Entry),
		evaluations: make(map[evaluationKey]*evaluation.Evaluation),
		stats:       make(map[string]*institution.Stats),
	}
}

type transactor struct {
	db *DB
}

var _ core.Transactor = (*transactor)(nil) // interface compliance check

// NewTransactor returns a Transactor serializing transactions.
// Writes of a failed transaction are not rolled back.
func NewTransactor(db *DB) core.Transactor {
	return &transactor{db: db}
}

func (t *transactor) InTx(_ context.Context, fn func(exec core.DBExecutor) error) error {
	t.db.txMutex.Lock()
	defer t.db.txMutex.Unlock()
	return fn(nil)
}
