package rediscache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/analysis"
	"github.com/iroils/evalapp/core/entry"
	"github.com/iroils/evalapp/core/evaluation"
	"github.com/iroils/evalapp/core/institution"
)

// Keys of an institution
const (
	selectedEntriesKey = "selected_entries"
	scoresKey          = "evaluation_scores"
	statsKey           = "stats"
	snapshotKey        = "snapshot"
)

// Fields of the stats hash
const (
	fieldCumulativeSummary = "cumulative_summary"
	fieldCumulativeTag     = "cumulative_tag"
	fieldTotalEvaluations  = "total_evaluations"
	fieldVersion           = "version"
)

var errTooManyRetries = errors.New("too many optimistic lock retries")

type Cache struct {
	client     *redis.Client
	ttl        time.Duration
	maxRetries int
}

var ( // interface compliance checks
	_ entry.Cache       = (*Cache)(nil)
	_ evaluation.Cache  = (*Cache)(nil)
	_ institution.Cache = (*Cache)(nil)
	_ analysis.Store    = (*Cache)(nil)
)

// Open connects to the Redis server described by conf.
func Open(ctx context.Context, conf *core.Config) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Address,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return New(client, conf), nil
}

func New(client *redis.Client, conf *core.Config) *Cache {
	vala.BeginValidation().Validate(
		vala.IsNotNil(client, "client"),
		vala.IsNotNil(conf, "conf"),
	).CheckAndPanic()

	maxRetries := conf.Redis.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Cache{client: client, ttl: conf.Redis.TTL, maxRetries: maxRetries}
}

func (c *Cache) Close() error {
	return c.client.Close()
}

func key(inst, name string) string {
	return inst + ":" + name
}

// trapNilErr maps redis.Nil to core.ErrCacheMiss
func trapNilErr(err error, msg string) error {
	if err == redis.Nil {
		return core.ErrCacheMiss
	}
	return errors.Wrap(err, msg)
}

func (c *Cache) getJSON(ctx context.Context, k string, v interface{}) error {
	data, err := c.client.Get(ctx, k).Bytes()
	if err != nil {
		return trapNilErr(err, "getting "+k)
	}
	return errors.Wrap(json.Unmarshal(data, v), "decoding "+k)
}

func (c *Cache) setJSON(ctx context.Context, k string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrap(err, "encoding "+k)
	}
	return errors.Wrap(c.client.Set(ctx, k, data, c.ttl).Err(), "setting "+k)
}

func (c *Cache) SelectedEntries(ctx context.Context, inst string) ([]entry.Entry, error) {
	var entries []entry.Entry
	if err := c.getJSON(ctx, key(inst, selectedEntriesKey), &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []entry.Entry{}
	}
	return entries, nil
}

func (c *Cache) SetSelectedEntries(ctx context.Context, inst string, entries []entry.Entry) error {
	if entries == nil {
		entries = []entry.Entry{}
	}
	return c.setJSON(ctx, key(inst, selectedEntriesKey), entries)
}

type score struct {
	SummaryScore int `json:"summary_score"`
	TagScore     int `json:"tag_score"`
}

func scoreField(evaluator, entryNumber string) string {
	return evaluator + "|" + entryNumber
}

func (c *Cache) SetScore(ctx context.Context, ev evaluation.Evaluation) error {
	data, err := json.Marshal(score{SummaryScore: ev.SummaryScore, TagScore: ev.TagScore})
	if err != nil {
		return errors.Wrap(err, "encoding score")
	}

	k := key(ev.Institution, scoresKey)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, scoreField(ev.Evaluator, ev.EntryNumber), data)
		c.expire(ctx, pipe, k)
		return nil
	})
	return errors.Wrap(err, "setting score")
}

// Scores returns the cached scores of the evaluator on entryNumbers. Entries without cached scores are
// left out of the map.
func (c *Cache) Scores(ctx context.Context, inst, evaluator string, entryNumbers []string) (map[string]evaluation.Score, error) {
	scores := make(map[string]evaluation.Score, len(entryNumbers))
	if len(entryNumbers) == 0 {
		return scores, nil
	}

	fields := make([]string, len(entryNumbers))
	for i, num := range entryNumbers {
		fields[i] = scoreField(evaluator, num)
	}
	vals, err := c.client.HMGet(ctx, key(inst, scoresKey), fields...).Result()
	if err != nil {
		return nil, errors.Wrap(err, "getting scores")
	}
	for i, val := range vals {
		data, ok := val.(string)
		if !ok {
			continue
		}
		var s score
		if err = json.Unmarshal([]byte(data), &s); err != nil {
			return nil, errors.Wrap(err, "decoding score")
		}
		scores[entryNumbers[i]] = evaluation.Score{SummaryScore: s.SummaryScore, TagScore: s.TagScore}
	}
	return scores, nil
}

func (c *Cache) expire(ctx context.Context, pipe redis.Pipeliner, k string) {
	if c.ttl > 0 {
		pipe.Expire(ctx, k, c.ttl)
	}
}

func parseStats(inst string, vals map[string]string) (institution.Stats, error) {
	stats := institution.Stats{Institution: inst}
	var err error
	if stats.CumulativeSummary, err = strconv.ParseFloat(vals[fieldCumulativeSummary], 64); err != nil {
		return stats, errors.Wrap(err, "parsing "+fieldCumulativeSummary)
	}
	if stats.CumulativeTag, err = strconv.ParseFloat(vals[fieldCumulativeTag], 64); err != nil {
		return stats, errors.Wrap(err, "parsing "+fieldCumulativeTag)
	}
	if stats.TotalEvaluations, err = strconv.Atoi(vals[fieldTotalEvaluations]); err != nil {
		return stats, errors.Wrap(err, "parsing "+fieldTotalEvaluations)
	}
	if v, ok := vals[fieldVersion]; ok {
		if stats.Version, err = strconv.ParseInt(v, 10, 64); err != nil {
			return stats, errors.Wrap(err, "parsing "+fieldVersion)
		}
	}
	return stats, nil
}

func statsValues(stats institution.Stats) map[string]interface{} {
	return map[string]interface{}{
		fieldCumulativeSummary: strconv.FormatFloat(stats.CumulativeSummary, 'f', -1, 64),
		fieldCumulativeTag:     strconv.FormatFloat(stats.CumulativeTag, 'f', -1, 64),
		fieldTotalEvaluations:  strconv.Itoa(stats.TotalEvaluations),
		fieldVersion:           strconv.FormatInt(stats.Version, 10),
	}
}

func (c *Cache) Stats(ctx context.Context, inst string) (institution.Stats, error) {
	vals, err := c.client.HGetAll(ctx, key(inst, statsKey)).Result()
	if err != nil {
		return institution.Stats{}, errors.Wrap(err, "getting stats")
	}
	if len(vals) == 0 {
		return institution.Stats{}, core.ErrCacheMiss
	}
	return parseStats(inst, vals)
}

// SetStats writes stats in a WATCH/MULTI transaction, retrying when the hash is modified concurrently.
// Cached stats of a greater Version are kept.
func (c *Cache) SetStats(ctx context.Context, stats institution.Stats) error {
	k := key(stats.Institution, statsKey)

	txf := func(tx *redis.Tx) error {
		cached, err := tx.HGet(ctx, k, fieldVersion).Int64()
		switch {
		case err == redis.Nil:
		case err != nil:
			return err
		case cached > stats.Version:
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, statsValues(stats))
			c.expire(ctx, pipe, k)
			return nil
		})
		return err
	}

	for i := 0; i < c.maxRetries; i++ {
		err := c.client.Watch(ctx, txf, k)
		if err == nil {
			return nil
		}
		if err != redis.TxFailedErr {
			return errors.Wrap(err, "setting stats")
		}
	}
	return errors.Wrapf(errTooManyRetries, "setting stats of %q", stats.Institution)
}

func (c *Cache) SaveSnapshot(ctx context.Context, snap analysis.Snapshot) error {
	// snapshots never expire
	data, err := json.Marshal(snap)
	if err != nil {
		return errors.Wrap(err, "encoding snapshot")
	}
	return errors.Wrap(c.client.Set(ctx, key(snap.Institution, snapshotKey), data, 0).Err(), "saving snapshot")
}

func (c *Cache) Snapshot(ctx context.Context, inst string) (analysis.Snapshot, error) {
	var snap analysis.Snapshot
	if err := c.getJSON(ctx, key(inst, snapshotKey), &snap); err != nil {
		return analysis.Snapshot{}, err
	}
	return snap, nil
}

func (c *Cache) Clear(ctx context.Context, inst string) error {
	err := c.client.Del(ctx,
		key(inst, selectedEntriesKey),
		key(inst, scoresKey),
		key(inst, statsKey),
		key(inst, snapshotKey),
	).Err()
	return errors.Wrap(err, "clearing cache")
}
