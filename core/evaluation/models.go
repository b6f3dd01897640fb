package evaluation

import (
	"context"
	"html"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"

	"github.com/iroils/evalapp/core"
	"github.com/iroils/evalapp/core/entry"
)

// Score bounds
const (
	MinScore     = 1
	MaxScore     = 5
	DefaultScore = 3
)

var feedbackPolicy = bluemonday.StrictPolicy()

type Evaluation struct {
	ID           int64     `json:"id"`
	Institution  string    `json:"institution"`
	Evaluator    string    `json:"evaluator"` // username
	EntryNumber  string    `json:"entry_number"`
	SummaryScore int       `json:"summary_score"`
	TagScore     int       `json:"tag_score"`
	Feedback     string    `json:"feedback"`
	CreatedAt    time.Time `json:"created_at"` // UTC
	UpdatedAt    time.Time `json:"updated_at"` // UTC
}

// NewEvaluation contains the scores an evaluator gives to an Entry.
type NewEvaluation struct {
	SummaryScore int    `json:"summary_score" validate:"required,min=1,max=5"`
	TagScore     int    `json:"tag_score" validate:"required,min=1,max=5"`
	Feedback     string `json:"feedback" validate:"max=5000"`
}

func (ne *NewEvaluation) Validate(validate *validator.Validate) error {
	ne.Feedback = SanitizeFeedback(ne.Feedback)
	return validate.Struct(ne)
}

// SanitizeFeedback strips any HTML from the feedback, keeping plain text.
func SanitizeFeedback(feedback string) string {
	return strings.TrimSpace(html.UnescapeString(feedbackPolicy.Sanitize(feedback)))
}

type QueryFilter struct {
	Institution string
	Evaluator   string
	EntryNumber string
}

func (qf *QueryFilter) Clean() {
	qf.Institution = core.NormalizeInstitution(qf.Institution)
	qf.Evaluator = core.CleanString(qf.Evaluator, true /* lower */)
	qf.EntryNumber = core.CleanString(qf.EntryNumber)
}

// Progress of an evaluator through the entries selected for evaluation.
type Progress struct {
	Assigned   int          `json:"assigned"`
	Completed  int          `json:"completed"`
	Remaining  int          `json:"remaining"`
	Percentage float64      `json:"percentage"`
	NextEntry  *entry.Entry `json:"next_entry"`
}

// Assignment pairs a selected Entry with the evaluator's Evaluation, if any.
type Assignment struct {
	Entry      entry.Entry `json:"entry"`
	Evaluation *Evaluation `json:"evaluation"`
}

// Score is the cached part of an Evaluation.
type Score struct {
	SummaryScore int
	TagScore     int
}

// Cache mirrors the scores of the evaluations.
type Cache interface {
	SetScore(ctx context.Context, ev Evaluation) error
	// Scores returns the cached scores of an evaluator, by entry number. Misses are left out.
	Scores(ctx context.Context, institution, evaluator string, entryNumbers []string) (map[string]Score, error)
}
