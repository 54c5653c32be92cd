package model

import "time"

// OutcomeStatus is the terminal state of a single city in a prediction run.
type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeSkipped   OutcomeStatus = "skipped"
)

// SkipReason explains why a city was not persisted.
type SkipReason string

const (
	ReasonInsufficientData   SkipReason = "insufficient-data"
	ReasonNoBoundaryFile     SkipReason = "no-boundary-file"
	ReasonBoundaryParseError SkipReason = "boundary-parse-error"
	ReasonNoPolygonMatch     SkipReason = "no-polygon-match"
	ReasonEmptyGrid          SkipReason = "empty-grid"
	ReasonValidationError    SkipReason = "validation-error"
	ReasonPersistError       SkipReason = "persist-error"
)

// CityOutcome records what happened to one city during a run.
type CityOutcome struct {
	City       string        `json:"city" yaml:"city"`
	Country    string        `json:"country,omitempty" yaml:"country,omitempty"`
	Status     OutcomeStatus `json:"status" yaml:"status"`
	Reason     SkipReason    `json:"reason,omitempty" yaml:"reason,omitempty"`
	Readings   int           `json:"readings" yaml:"readings"`
	Candidates int           `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	Clipped    int           `json:"clipped,omitempty" yaml:"clipped,omitempty"`
	Predicted  int           `json:"predicted,omitempty" yaml:"predicted,omitempty"`
	DocumentID string        `json:"document_id,omitempty" yaml:"document_id,omitempty"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Skip marks the outcome as skipped for the given reason.
func (o *CityOutcome) Skip(reason SkipReason, err error) {
	o.Status = OutcomeSkipped
	o.Reason = reason
	if err != nil {
		o.Error = err.Error()
	}
}

// Manifest is the per-run report of city outcomes.
type Manifest struct {
	RunID      string        `json:"run_id" yaml:"run_id"`
	StartedAt  time.Time     `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time     `json:"finished_at" yaml:"finished_at"`
	Readings   int           `json:"readings" yaml:"readings"`
	Dropped    int           `json:"dropped" yaml:"dropped"`
	Outcomes   []CityOutcome `json:"outcomes" yaml:"outcomes"`
}

// Completed returns the outcomes that were persisted.
func (m *Manifest) Completed() []CityOutcome {
	return m.filter(OutcomeCompleted)
}

// Skipped returns the outcomes that were skipped.
func (m *Manifest) Skipped() []CityOutcome {
	return m.filter(OutcomeSkipped)
}

func (m *Manifest) filter(status OutcomeStatus) []CityOutcome {
	var out []CityOutcome
	for _, o := range m.Outcomes {
		if o.Status == status {
			out = append(out, o)
		}
	}
	return out
}
