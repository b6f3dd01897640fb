package entry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/iroils/evalapp/core"
)

// Selection flags
const (
	NotSelected = "Do Not Select"
	Selected    = "Select for Evaluation"

	legacySelected = "Selected"
)

// Well-known Data keys
const (
	KeyEventNumber = "Event Number"
	KeyNarrative   = "Narrative"
	KeySummary     = "Succinct Summary"
	KeyTags        = "Assigned Tags"
	KeySelected    = "Selected"
)

// Selection filters
const (
	SelectionAll         = "all"
	SelectionSelected    = "selected"
	SelectionNotSelected = "not_selected"
)

type Entry struct {
	ID          int64                  `json:"id"`
	Institution string                 `json:"institution"`
	EventNumber string                 `json:"event_number"`
	Data        map[string]interface{} `json:"data"`
	Selected    string                 `json:"selected"`
	CreatedAt   time.Time              `json:"created_at"` // UTC
	UpdatedAt   time.Time              `json:"updated_at"` // UTC
}

func (e Entry) IsSelected() bool {
	return e.Selected != NotSelected
}

func (e Entry) Narrative() string { return e.dataString(KeyNarrative) }
func (e Entry) Summary() string   { return e.dataString(KeySummary) }

// Tags returns the assigned tags, stored either as a comma separated string or as a list.
func (e Entry) Tags() []string {
	switch tags := e.Data[KeyTags].(type) {
	case string:
		return core.SplitList(tags)
	case []string:
		return cleanTags(tags)
	case []interface{}:
		strs := make([]string, 0, len(tags))
		for _, t := range tags {
			strs = append(strs, fmt.Sprint(t))
		}
		return cleanTags(strs)
	}
	return []string{}
}

func (e Entry) dataString(key string) string {
	switch v := e.Data[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// SetSelection updates the selection flag, keeping Data in sync.
func (e *Entry) SetSelection(selected bool) {
	e.Selected = SelectionFlag(selected)
	if e.Data == nil {
		e.Data = make(map[string]interface{})
	}
	e.Data[KeySelected] = e.Selected
}

func cleanTags(tags []string) []string {
	cleaned := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			cleaned = append(cleaned, t)
		}
	}
	return cleaned
}

// SelectionFlag returns the selection flag matching selected.
func SelectionFlag(selected bool) string {
	if selected {
		return Selected
	}
	return NotSelected
}

// NormalizeSelection maps any accepted selection value to its flag; ok is false for unknown values.
func NormalizeSelection(s string) (flag string, ok bool) {
	switch strings.TrimSpace(s) {
	case Selected, legacySelected:
		return Selected, true
	case NotSelected, "":
		return NotSelected, true
	}
	return "", false
}

// NewEntry contains information needed to upload an Entry.
type NewEntry struct {
	EventNumber string                 `json:"event_number" validate:"required,notblank,max=64"`
	Data        map[string]interface{} `json:"data"`
	Selected    string                 `json:"selected" validate:"omitempty,selection"`
}

func (ne *NewEntry) clean() {
	if ne.Data == nil {
		ne.Data = make(map[string]interface{})
	}
	// the event number falls back to Data["Event Number"]
	if ne.EventNumber == "" {
		if num, ok := ne.Data[KeyEventNumber]; ok && num != nil {
			ne.EventNumber = fmt.Sprint(num)
		}
	}
	ne.EventNumber = core.CleanString(ne.EventNumber)
	if ne.Selected == "" {
		if sel, ok := ne.Data[KeySelected].(string); ok {
			ne.Selected = sel
		}
	}
	ne.Selected = strings.TrimSpace(ne.Selected)
}

// Upload contains a batch of entries to upload.
type Upload struct {
	Entries []NewEntry `json:"entries" validate:"required,min=1,dive"`
}

func (u *Upload) Validate(validate *validator.Validate) error {
	for i := range u.Entries {
		u.Entries[i].clean()
	}
	if err := validate.Struct(u); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(u.Entries))
	for _, ne := range u.Entries {
		if _, dup := seen[ne.EventNumber]; dup {
			return core.NewValidationError(nil, core.FieldError{
				Field: "entries",
				Error: fmt.Sprintf("duplicate event number %q", ne.EventNumber),
			})
		}
		seen[ne.EventNumber] = struct{}{}
	}
	return nil
}

type UploadResult struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// SelectionUpdate sets the selection flag of the given entries.
type SelectionUpdate struct {
	EventNumbers []string `json:"event_numbers" validate:"required,min=1,dive,notblank"`
	Selected     *bool    `json:"selected" validate:"required"`
}

func (su *SelectionUpdate) Validate(validate *validator.Validate) error {
	for i, num := range su.EventNumbers {
		su.EventNumbers[i] = core.CleanString(num)
	}
	return validate.Struct(su)
}

// RandomSelection selects Count random entries, deselecting all others.
type RandomSelection struct {
	Count int `json:"count" validate:"required,min=1"`
}

func (rs RandomSelection) Validate(validate *validator.Validate) error { return validate.Struct(rs) }

type QueryFilter struct {
	Institution  string
	Selection    string // SelectionAll | SelectionSelected | SelectionNotSelected
	Search       string
	EventNumbers []string
}

func (qf *QueryFilter) Clean() {
	qf.Institution = core.NormalizeInstitution(qf.Institution)
	qf.Search = core.CleanString(qf.Search)
	switch qf.Selection {
	case SelectionSelected, SelectionNotSelected:
	default:
		qf.Selection = SelectionAll
	}
}

// Counts of an institution's entries.
type Counts struct {
	Total    int `json:"total"`
	Selected int `json:"selected"`
}

// Cache is a read-through cache of the selected entries of an institution.
type Cache interface {
	SelectedEntries(ctx context.Context, institution string) ([]Entry, error)
	SetSelectedEntries(ctx context.Context, institution string, entries []Entry) error
}
