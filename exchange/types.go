// ABOUTME: Data model for generation exchanges, their stages and attempts, and user applications.
// ABOUTME: Status enums carry the lifecycle predicates (running, terminal) the orchestrator relies on.
package exchange

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Status is the lifecycle status of an Exchange.
type Status string

const (
	StatusPlanning   Status = "PLANNING"
	StatusGenerating Status = "GENERATING"
	StatusSuccessful Status = "SUCCESSFUL"
	StatusFailed     Status = "FAILED"
	StatusCancelled  Status = "CANCELLED"
	StatusReverted   Status = "REVERTED"
)

// IsRunning reports whether the exchange still has a generation job in flight.
func (s Status) IsRunning() bool {
	return s == StatusPlanning || s == StatusGenerating
}

// IsTerminal reports whether a streamed snapshot with this status ends the job.
// REVERTED is deliberately excluded: it is only ever set on history entries.
func (s Status) IsTerminal() bool {
	return s == StatusSuccessful || s == StatusFailed || s == StatusCancelled
}

// StageStatus is the status of a single Stage.
type StageStatus string

const (
	StageGenerating StageStatus = "GENERATING"
	StageCommitting StageStatus = "COMMITTING"
	StageSuccessful StageStatus = "SUCCESSFUL"
	StageFailed     StageStatus = "FAILED"
)

// AttemptStatus is the status of a single Attempt.
type AttemptStatus string

const (
	AttemptRunning    AttemptStatus = "RUNNING"
	AttemptSuccessful AttemptStatus = "SUCCESSFUL"
	AttemptFailed     AttemptStatus = "FAILED"
)

// Well-known stage types. Servers may send others; the type is an open string.
const (
	StageTypeBackend  = "BACKEND"
	StageTypeFrontend = "FRONTEND"
)

// placeholderPrefix marks ids minted locally before the server assigns one.
const placeholderPrefix = "temp_"

// Attempt is one try at completing a stage.
type Attempt struct {
	ID           string        `json:"id"`
	Status       AttemptStatus `json:"status"`
	ErrorMessage *string       `json:"errorMessage"`
}

// Stage is a named phase of a generation job (backend, frontend, ...).
type Stage struct {
	ID       string      `json:"id"`
	Type     string      `json:"type"`
	Status   StageStatus `json:"status"`
	Attempts []Attempt   `json:"attempts"`
}

// MarshalJSON encodes a nil attempt list as an empty array.
func (s Stage) MarshalJSON() ([]byte, error) {
	type alias Stage
	a := alias(s)
	if a.Attempts == nil {
		a.Attempts = []Attempt{}
	}
	return json.Marshal(a)
}

// Exchange is one user prompt and the generation run it triggered.
type Exchange struct {
	ID            string  `json:"id"`
	AppID         string  `json:"appId"`
	UserID        string  `json:"userId"`
	First         bool    `json:"first"`
	Prompt        string  `json:"prompt"`
	Status        Status  `json:"status"`
	Stages        []Stage `json:"stages"`
	ErrorMessage  *string `json:"errorMessage"`
	ProductURL    *string `json:"productURL"`
	ManagementURL *string `json:"managementURL"`
}

// MarshalJSON encodes a nil stage list as an empty array.
func (e Exchange) MarshalJSON() ([]byte, error) {
	type alias Exchange
	a := alias(e)
	if a.Stages == nil {
		a.Stages = []Stage{}
	}
	return json.Marshal(a)
}

// NewPlaceholder builds the local PLANNING exchange shown before the server
// has answered. The prompt is trimmed; every optional field is left nil.
func NewPlaceholder(prompt, appID string, now time.Time) Exchange {
	return Exchange{
		ID:     PlaceholderID(now),
		AppID:  appID,
		Prompt: strings.TrimSpace(prompt),
		Status: StatusPlanning,
		Stages: []Stage{},
	}
}

// PlaceholderID mints a temp_<unix-millis> id.
func PlaceholderID(now time.Time) string {
	return placeholderPrefix + strconv.FormatInt(now.UnixMilli(), 10)
}

// IsPlaceholder reports whether the exchange still carries a locally minted id.
func (e Exchange) IsPlaceholder() bool {
	return strings.HasPrefix(e.ID, placeholderPrefix)
}

// Stage returns the first stage of the given type, if present.
func (e Exchange) Stage(stageType string) (Stage, bool) {
	for _, s := range e.Stages {
		if s.Type == stageType {
			return s, true
		}
	}
	return Stage{}, false
}

// WithStatus returns a copy of e with the status replaced.
func (e Exchange) WithStatus(status Status) Exchange {
	c := e.Clone()
	c.Status = status
	return c
}

// Clone returns a deep copy so callers can hand out state without sharing
// stage or attempt slices.
func (e Exchange) Clone() Exchange {
	c := e
	c.ErrorMessage = cloneString(e.ErrorMessage)
	c.ProductURL = cloneString(e.ProductURL)
	c.ManagementURL = cloneString(e.ManagementURL)
	if e.Stages != nil {
		c.Stages = make([]Stage, len(e.Stages))
		for i, s := range e.Stages {
			c.Stages[i] = s
			if s.Attempts != nil {
				c.Stages[i].Attempts = make([]Attempt, len(s.Attempts))
				for j, a := range s.Attempts {
					a.ErrorMessage = cloneString(a.ErrorMessage)
					c.Stages[i].Attempts[j] = a
				}
			}
		}
	}
	return c
}

// Application is a user application the exchanges build up.
type Application struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	OwnerID string `json:"ownerId"`
}

// Page is the standard paginated response shape.
type Page[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

// StringPtr returns a pointer to s, for the nullable string fields.
func StringPtr(s string) *string {
	return &s
}

// Deref returns the pointed-to string or "" when nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
