package entry

import (
	"context"
	"fmt"
	"math/rand"
	"net/mail"
	"sort"
	"time"

	"github.com/kat-co/vala"
	"github.com/pkg/errors"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/user"
)

const cacheName = "selected_entries"

var (
	ErrNotFound      = errors.New("entry not found")
	ErrNoInstitution = errors.New("institution is required")
	ErrNoEventNumber = errors.New("event number is required")
)

var (
	OrderingFields  = []string{"event_number", "selected", "created_at", "updated_at"}
	defaultOrdering = []core.DBOrdering{{Field: "event_number", Ascending: true}}
	shuffleFunc     = rand.Shuffle // mockable
)

type (
	Repository interface {
		// UpsertEntries inserts new entries and replaces the data of existing ones.
		// An empty Entry.Selected keeps the current selection (NotSelected for new entries).
		UpsertEntries(ctx context.Context, entries []Entry, exec ...core.DBExecutor) (created int, err error)
		QueryEntries(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering, exec ...core.DBExecutor) ([]Entry, error)
		GetEntry(ctx context.Context, institution, eventNumber string, exec ...core.DBExecutor) (Entry, error)
		// SetSelection sets the selection flag of the given entries (all entries of the institution if none given)
		// and returns the number of matched entries.
		SetSelection(ctx context.Context, institution string, eventNumbers []string, selected string, exec ...core.DBExecutor) (int, error)
		CountEntries(ctx context.Context, institution string, exec ...core.DBExecutor) (Counts, error)
		DeleteEntries(ctx context.Context, institution string, exec ...core.DBExecutor) (int, error)
	}

	Service interface {
		Upload(ctx context.Context, institution string, upload Upload) (UploadResult, error)
		Query(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Entry, error)
		Get(ctx context.Context, institution, eventNumber string) (Entry, error)
		Counts(ctx context.Context, institution string) (Counts, error)
		SetSelection(ctx context.Context, institution string, su SelectionUpdate) (int, error)
		SelectRandom(ctx context.Context, institution string, n int) ([]Entry, error)
		// ReplaceSelection selects exactly the given entries, deselecting all others.
		// Unknown event numbers are ignored.
		ReplaceSelection(ctx context.Context, institution string, eventNumbers []string) (int, error)
		// Assigned returns the entries selected for evaluation, from the cache when possible.
		Assigned(ctx context.Context, institution string) ([]Entry, error)
	}

	Deps struct {
		Tx      core.Transactor
		Repo    Repository
		UserSvc user.Service
		MailSvc core.EmailService
		Logger  core.Logger
		Metrics core.Metrics
		Cache   Cache // optional
	}

	service struct {
		Deps
	}
)

var _ Service = (*service)(nil)

func NewService(deps Deps) Service {
	vala.BeginValidation().Validate(
		vala.IsNotNil(deps.Tx, "Tx"),
		vala.IsNotNil(deps.Repo, "Repo"),
		vala.IsNotNil(deps.UserSvc, "UserSvc"),
		vala.IsNotNil(deps.MailSvc, "MailSvc"),
		vala.IsNotNil(deps.Logger, "Logger"),
		vala.IsNotNil(deps.Metrics, "Metrics"),
	).CheckAndPanic()

	return &service{Deps: deps}
}

func (svc *service) Upload(ctx context.Context, institution string, upload Upload) (UploadResult, error) {
	inst := core.NormalizeInstitution(institution)
	if inst == "" {
		return UploadResult{}, ErrNoInstitution
	}

	now := time.Now().UTC()
	entries := make([]Entry, 0, len(upload.Entries))
	for _, ne := range upload.Entries {
		ne.clean()
		if ne.EventNumber == "" {
			return UploadResult{}, ErrNoEventNumber
		}

		data := make(map[string]interface{}, len(ne.Data)+1)
		for k, v := range ne.Data {
			data[k] = v
		}
		e := Entry{
			Institution: inst,
			EventNumber: ne.EventNumber,
			Data:        data,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		e.Data[KeyEventNumber] = ne.EventNumber
		if ne.Selected != "" {
			flag, _ := NormalizeSelection(ne.Selected)
			e.SetSelection(flag == Selected)
		} else {
			delete(e.Data, KeySelected)
		}
		entries = append(entries, e)
	}

	var created int
	err := svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		created, err = svc.Repo.UpsertEntries(ctx, entries, exec)
		return err
	})
	if err != nil {
		return UploadResult{}, errors.Wrap(err, "upserting entries")
	}

	// the payload of selected entries may have changed too
	svc.refreshCache(ctx, inst)
	return UploadResult{Created: created, Updated: len(entries) - created}, nil
}

func (svc *service) Query(ctx context.Context, filter QueryFilter, ordering []core.DBOrdering) ([]Entry, error) {
	filter.Clean()
	if filter.Institution == "" {
		return nil, ErrNoInstitution
	}
	if ordering = core.FilterOrdering(ordering, OrderingFields...); len(ordering) == 0 {
		ordering = defaultOrdering
	}
	return svc.Repo.QueryEntries(ctx, filter, ordering)
}

func (svc *service) Get(ctx context.Context, institution, eventNumber string) (Entry, error) {
	return svc.Repo.GetEntry(ctx, core.NormalizeInstitution(institution), core.CleanString(eventNumber))
}

func (svc *service) Counts(ctx context.Context, institution string) (Counts, error) {
	return svc.Repo.CountEntries(ctx, core.NormalizeInstitution(institution))
}

func (svc *service) SetSelection(ctx context.Context, institution string, su SelectionUpdate) (int, error) {
	inst := core.NormalizeInstitution(institution)
	if inst == "" {
		return 0, ErrNoInstitution
	}
	nums := uniqueStrings(su.EventNumbers)
	flag := SelectionFlag(su.Selected != nil && *su.Selected)

	var count int
	err := svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		found, err := svc.Repo.QueryEntries(ctx, QueryFilter{Institution: inst, EventNumbers: nums}, nil, exec)
		if err != nil {
			return errors.Wrap(err, "querying entries")
		}
		if len(found) < len(nums) {
			return ErrNotFound
		}
		count, err = svc.Repo.SetSelection(ctx, inst, nums, flag, exec)
		return err
	})
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return 0, ErrNotFound
		}
		return 0, errors.Wrap(err, "setting selection")
	}

	svc.selectionChanged(ctx, inst, count, flag == Selected)
	return count, nil
}

func (svc *service) SelectRandom(ctx context.Context, institution string, n int) ([]Entry, error) {
	inst := core.NormalizeInstitution(institution)
	if inst == "" {
		return nil, ErrNoInstitution
	}
	if n < 1 {
		return nil, core.NewValidationError(nil, core.FieldError{Field: "count", Error: "count must be 1 or greater"})
	}

	var picked []Entry
	err := svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		all, err := svc.Repo.QueryEntries(ctx, QueryFilter{Institution: inst, Selection: SelectionAll}, defaultOrdering, exec)
		if err != nil {
			return errors.Wrap(err, "querying entries")
		}

		shuffleFunc(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
		if n > len(all) {
			n = len(all)
		}
		picked = all[:n]
		sort.Slice(picked, func(i, j int) bool { return picked[i].EventNumber < picked[j].EventNumber })

		nums := make([]string, 0, n)
		for i := range picked {
			picked[i].SetSelection(true)
			nums = append(nums, picked[i].EventNumber)
		}
		_, err = svc.replaceSelection(ctx, inst, nums, exec)
		return err
	})
	if err != nil {
		return nil, err
	}

	svc.selectionChanged(ctx, inst, len(picked), len(picked) > 0)
	if picked == nil {
		picked = []Entry{}
	}
	return picked, nil
}

func (svc *service) ReplaceSelection(ctx context.Context, institution string, eventNumbers []string) (int, error) {
	inst := core.NormalizeInstitution(institution)
	if inst == "" {
		return 0, ErrNoInstitution
	}
	nums := make([]string, 0, len(eventNumbers))
	for _, num := range eventNumbers {
		if num = core.CleanString(num); num != "" {
			nums = append(nums, num)
		}
	}
	nums = uniqueStrings(nums)

	var count int
	err := svc.Tx.InTx(ctx, func(exec core.DBExecutor) error {
		var err error
		count, err = svc.replaceSelection(ctx, inst, nums, exec)
		return err
	})
	if err != nil {
		return 0, err
	}

	svc.selectionChanged(ctx, inst, count, count > 0)
	return count, nil
}

func (svc *service) replaceSelection(ctx context.Context, inst string, nums []string, exec core.DBExecutor) (int, error) {
	if _, err := svc.Repo.SetSelection(ctx, inst, nil, NotSelected, exec); err != nil {
		return 0, errors.Wrap(err, "resetting selection")
	}
	if len(nums) == 0 {
		return 0, nil
	}
	count, err := svc.Repo.SetSelection(ctx, inst, nums, Selected, exec)
	if err != nil {
		return 0, errors.Wrap(err, "selecting entries")
	}
	return count, nil
}

// selectionChanged runs once a selection change is committed.
func (svc *service) selectionChanged(ctx context.Context, inst string, count int, notify bool) {
	svc.Metrics.SelectionChanged(inst, count)
	svc.refreshCache(ctx, inst)
	if notify {
		svc.notifyEvaluators(ctx, inst)
	}
}

func (svc *service) Assigned(ctx context.Context, institution string) ([]Entry, error) {
	inst := core.NormalizeInstitution(institution)
	if inst == "" {
		return nil, ErrNoInstitution
	}

	if svc.Cache != nil {
		entries, err := svc.Cache.SelectedEntries(ctx, inst)
		if err == nil {
			svc.Metrics.CacheRequest(cacheName, true)
			return entries, nil
		}
		if errors.Cause(err) == core.ErrCacheMiss {
			svc.Metrics.CacheRequest(cacheName, false)
		} else {
			svc.Metrics.CacheError(cacheName)
			svc.Logger.Error(fmt.Sprintf("reading cached selected entries of %q", inst), err)
		}
	}

	entries, err := svc.selectedFromDB(ctx, inst)
	if err != nil {
		return nil, err
	}
	svc.cacheSelected(ctx, inst, entries)
	return entries, nil
}

func (svc *service) selectedFromDB(ctx context.Context, inst string) ([]Entry, error) {
	entries, err := svc.Repo.QueryEntries(ctx, QueryFilter{Institution: inst, Selection: SelectionSelected}, defaultOrdering)
	if err != nil {
		return nil, errors.Wrap(err, "querying selected entries")
	}
	return entries, nil
}

func (svc *service) cacheSelected(ctx context.Context, inst string, entries []Entry) {
	if svc.Cache == nil {
		return
	}
	if err := svc.Cache.SetSelectedEntries(ctx, inst, entries); err != nil {
		svc.Metrics.CacheError(cacheName)
		svc.Logger.Error(fmt.Sprintf("caching selected entries of %q", inst), err)
	}
}

// refreshCache replaces the cached selected entries with the committed ones.
func (svc *service) refreshCache(ctx context.Context, inst string) {
	if svc.Cache == nil {
		return
	}
	entries, err := svc.selectedFromDB(ctx, inst)
	if err != nil {
		svc.Logger.Error(fmt.Sprintf("refreshing cached selected entries of %q", inst), err)
		return
	}
	svc.cacheSelected(ctx, inst, entries)
}

func (svc *service) notifyEvaluators(ctx context.Context, inst string) {
	counts, err := svc.Repo.CountEntries(ctx, inst)
	if err != nil {
		svc.Logger.Error(fmt.Sprintf("counting entries of %q", inst), err)
		return
	}
	evaluators, err := svc.UserSvc.Evaluators(ctx, inst)
	if err != nil {
		svc.Logger.Error(fmt.Sprintf("finding evaluators of %q", inst), err)
		return
	}

	msgs := make([]*core.EmailMessage, 0, len(evaluators))
	for _, usr := range evaluators {
		if usr.Email == "" {
			continue
		}
		msgs = append(msgs, &core.EmailMessage{
			To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
			Subject:      "Entries assigned for evaluation",
			TemplateName: "entries_assigned",
			TemplateData: map[string]interface{}{
				"Name":        usr.Name,
				"Institution": inst,
				"Count":       counts.Selected,
			},
		})
	}
	if len(msgs) > 0 {
		svc.MailSvc.SendMessages(msgs...)
	}
}

func uniqueStrings(strs []string) []string {
	seen := make(map[string]struct{}, len(strs))
	unique := make([]string, 0, len(strs))
	for _, s := range strs {
		if _, ok := seen[s]; !ok {
			seen[s] = struct{}{}
			unique = append(unique, s)
		}
	}
	return unique
}
