// Package patterns implements the decision/outcome tracker: recording
// a choice the assistant or user made during a session, optionally
// recording later whether it turned out useful, and listing decisions
// still awaiting an outcome. Decisions and outcomes live in separate
// append-only logs and are joined in memory on load, since outcomes
// may arrive in a different session than the decision they grade — or
// never arrive at all. Layered on internal/genericlog the same way
// internal/annotations is, since neither shape is a
// record.MemoryRecord.
package patterns

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/cortex-memory/cortex/internal/cerrors"
	"github.com/cortex-memory/cortex/internal/genericlog"
	"github.com/cortex-memory/cortex/internal/idgen"
)

// Decision captures one choice point.
type Decision struct {
	ID           string    `json:"id"`
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"sessionId"`
	DecisionType string    `json:"decisionType"`
	Context      string    `json:"context"`
	Choice       string    `json:"choice"`
	Alternatives []string  `json:"alternatives,omitempty"`
	Confidence   float64   `json:"confidence"`

	// Outcome is joined in from the outcomes log at load time and
	// never serialized with the decision; nil means still pending.
	Outcome *Outcome `json:"-"`
}

// Outcome captures whether a decision paid off. Useful is a
// tri-state: true, false, or unknown (nil).
type Outcome struct {
	DecisionID string         `json:"decisionId"`
	Useful     *bool          `json:"useful"`
	Signals    map[string]any `json:"signals,omitempty"`
	RecordedAt time.Time      `json:"recordedAt"`
}

// Tracker joins the decision log with the outcome log.
type Tracker struct {
	decisions *genericlog.Log[Decision]
	outcomes  *genericlog.Log[Outcome]
}

// New constructs a Tracker over the two backing files. Call Load
// before use.
func New(decisionsPath, outcomesPath string, logger *slog.Logger) *Tracker {
	return &Tracker{
		decisions: genericlog.New[Decision](decisionsPath, logger, func(d *Decision) string { return d.ID }),
		outcomes:  genericlog.New[Outcome](outcomesPath, logger, func(o *Outcome) string { return o.DecisionID }),
	}
}

// Load reads both backing files and joins outcomes onto their
// decisions. An outcome whose decision is unknown is kept in the
// outcome log but joins to nothing.
func (t *Tracker) Load() error {
	if err := t.decisions.Load(); err != nil {
		return err
	}
	if err := t.outcomes.Load(); err != nil {
		return err
	}
	for _, o := range t.outcomes.Query(func(*Outcome) bool { return true }) {
		err := t.decisions.Update(o.DecisionID, func(d *Decision) { d.Outcome = o })
		if err != nil && err != cerrors.ErrNotFound {
			return err
		}
	}
	return nil
}

// RecordDecisionInput is what the caller supplies; ID/timestamp are
// derived unless explicitly overridden via Now.
type RecordDecisionInput struct {
	SessionID    string
	DecisionType string
	Context      string
	Choice       string
	Alternatives []string
	Confidence   float64
	Now          time.Time
}

// RecordDecision appends a new decision.
func (t *Tracker) RecordDecision(in RecordDecisionInput) (*Decision, error) {
	now := in.Now
	if now.IsZero() {
		now = time.Now()
	}
	id := fmt.Sprintf("decision:%s", idgen.GenerateHashID("dec", in.Choice, in.Context, in.SessionID, now, 8, 0))
	d := &Decision{
		ID: id, Timestamp: now, SessionID: in.SessionID, DecisionType: in.DecisionType,
		Context: in.Context, Choice: in.Choice, Alternatives: in.Alternatives, Confidence: in.Confidence,
	}
	if err := t.decisions.Append(d); err != nil {
		return nil, err
	}
	return d, nil
}

// RecordOutcome appends an outcome and joins it onto its decision.
// Returns cerrors.ErrNotFound if decisionID was never recorded.
func (t *Tracker) RecordOutcome(decisionID string, useful *bool, signals map[string]any, now time.Time) error {
	d := t.decisions.Get(decisionID)
	if d == nil {
		return cerrors.ErrNotFound
	}
	if now.IsZero() {
		now = time.Now()
	}
	o := &Outcome{DecisionID: decisionID, Useful: useful, Signals: signals, RecordedAt: now}
	if err := t.outcomes.Append(o); err != nil {
		return err
	}
	return t.decisions.Update(decisionID, func(d *Decision) { d.Outcome = o })
}

// Get returns the decision with id, or cerrors.ErrNotFound.
func (t *Tracker) Get(id string) (*Decision, error) {
	d := t.decisions.Get(id)
	if d == nil {
		return nil, cerrors.ErrNotFound
	}
	return d, nil
}

// PendingDecisions returns every decision with no outcome yet, oldest
// first.
func (t *Tracker) PendingDecisions() []*Decision {
	out := t.decisions.Query(func(d *Decision) bool { return d.Outcome == nil })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// BySession returns every decision recorded under sessionID, oldest
// first.
func (t *Tracker) BySession(sessionID string) []*Decision {
	out := t.decisions.Query(func(d *Decision) bool { return d.SessionID == sessionID })
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}
