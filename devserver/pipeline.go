// ABOUTME: Simulated generation job: PLANNING, then BACKEND and FRONTEND stages with attempts, then a terminal status.
// ABOUTME: Each step publishes a full exchange snapshot; the job stops early when cancelled.
package devserver

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/2389-research/kiwi/exchange"
	"github.com/google/uuid"
)

// FailMarker in a prompt makes the first backend attempt fail, so retry can
// be exercised locally.
const FailMarker = "#fail"

const backendFailure = "Backend build failed: simulated compiler error."

type startParams struct {
	prompt    string
	skipPages bool
	origin    string
}

// runJob drives exchange id to a terminal state. attempt is 0 for the first
// run and increments on every retry.
func (s *Server) runJob(ctx context.Context, id string, attempt int) {
	defer s.metrics.jobsRunning.Dec()
	s.metrics.jobsRunning.Inc()

	params, ok := s.store.params(id)
	if !ok {
		return
	}
	current, ok := s.store.Exchange(id)
	if !ok {
		return
	}

	steps := []func(ex *exchange.Exchange) bool{
		func(ex *exchange.Exchange) bool {
			ex.Status = exchange.StatusGenerating
			beginStage(ex, exchange.StageTypeBackend)
			return true
		},
		func(ex *exchange.Exchange) bool {
			if attempt == 0 && strings.Contains(params.prompt, FailMarker) {
				finishStage(ex, exchange.StageTypeBackend, exchange.StageFailed, backendFailure)
				ex.Status = exchange.StatusFailed
				ex.ErrorMessage = exchange.StringPtr(backendFailure)
				return false
			}
			setStageStatus(ex, exchange.StageTypeBackend, exchange.StageCommitting)
			return true
		},
		func(ex *exchange.Exchange) bool {
			finishStage(ex, exchange.StageTypeBackend, exchange.StageSuccessful, "")
			return true
		},
	}
	if !params.skipPages {
		steps = append(steps,
			func(ex *exchange.Exchange) bool {
				beginStage(ex, exchange.StageTypeFrontend)
				return true
			},
			func(ex *exchange.Exchange) bool {
				finishStage(ex, exchange.StageTypeFrontend, exchange.StageSuccessful, "")
				return true
			},
		)
	}
	steps = append(steps, func(ex *exchange.Exchange) bool {
		ex.Status = exchange.StatusSuccessful
		ex.ErrorMessage = nil
		ex.ProductURL = exchange.StringPtr(params.origin + "/preview/" + ex.AppID)
		ex.ManagementURL = exchange.StringPtr(params.origin + "/manage/" + ex.AppID)
		return false
	})

	for i, step := range steps {
		timer := time.NewTimer(s.cfg.StepDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if i == 0 {
			// Named before the snapshot goes out so a client reacting to the
			// backend stage sees the new name.
			s.nameApplication(current.AppID, params.prompt)
		}

		var more, applied bool
		snap, ok := s.store.Update(id, func(ex *exchange.Exchange) {
			if ctx.Err() != nil || !ex.Status.IsRunning() {
				return
			}
			applied = true
			more = step(ex)
		})
		if !ok || !applied {
			return
		}
		if !more {
			s.metrics.generations.WithLabelValues(strings.ToLower(string(snap.Status))).Inc()
			s.logger.Printf("component=devserver action=job_done exchange=%s status=%s attempt=%d", id, snap.Status, attempt)
			return
		}
	}
}

// nameApplication gives an auto-created application its name once the
// backend stage has started.
func (s *Server) nameApplication(appID, prompt string) {
	app, ok := s.store.Application(appID)
	if !ok || app.Name != "" {
		return
	}
	s.store.RenameApplication(appID, appName(prompt))
}

func beginStage(ex *exchange.Exchange, stageType string) {
	attempt := exchange.Attempt{ID: uuid.NewString(), Status: exchange.AttemptRunning}
	for i := range ex.Stages {
		if ex.Stages[i].Type == stageType {
			ex.Stages[i].Status = exchange.StageGenerating
			ex.Stages[i].Attempts = append(ex.Stages[i].Attempts, attempt)
			return
		}
	}
	ex.Stages = append(ex.Stages, exchange.Stage{
		ID:       uuid.NewString(),
		Type:     stageType,
		Status:   exchange.StageGenerating,
		Attempts: []exchange.Attempt{attempt},
	})
}

func setStageStatus(ex *exchange.Exchange, stageType string, status exchange.StageStatus) {
	for i := range ex.Stages {
		if ex.Stages[i].Type == stageType {
			ex.Stages[i].Status = status
		}
	}
}

func finishStage(ex *exchange.Exchange, stageType string, status exchange.StageStatus, errMsg string) {
	attemptStatus := exchange.AttemptSuccessful
	if status == exchange.StageFailed {
		attemptStatus = exchange.AttemptFailed
	}
	for i := range ex.Stages {
		st := &ex.Stages[i]
		if st.Type != stageType {
			continue
		}
		st.Status = status
		if n := len(st.Attempts); n > 0 {
			st.Attempts[n-1].Status = attemptStatus
			if errMsg != "" {
				st.Attempts[n-1].ErrorMessage = exchange.StringPtr(errMsg)
			}
		}
	}
}

// appName derives a title from the first few words of a prompt.
func appName(prompt string) string {
	words := strings.Fields(strings.ReplaceAll(prompt, FailMarker, ""))
	if len(words) > 4 {
		words = words[:4]
	}
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	if len(words) == 0 {
		return "Untitled App"
	}
	return strings.Join(words, " ")
}
