package models

import (
	"time"
)

// ChangeRecord represents one changed file in a changeset.
// Records are immutable once produced by the normalizer.
type ChangeRecord struct {
	Path         string   `json:"path" db:"path"`
	AddedLines   int      `json:"added_lines" db:"added_lines"`
	RemovedLines int      `json:"removed_lines" db:"removed_lines"`
	Hunks        []string `json:"hunks,omitempty"`
	Patch        string   `json:"patch,omitempty"`
	Status       string   `json:"status,omitempty" db:"status"`
	IsTest       bool     `json:"is_test" db:"is_test"`
	IsDoc        bool     `json:"is_doc" db:"is_doc"`
	IsBinary     bool     `json:"is_binary" db:"is_binary"`
}

// LOC returns the total changed line count for the record.
func (r ChangeRecord) LOC() int {
	return r.AddedLines + r.RemovedLines
}

// RiskScore is the offline heuristic risk assessment for one file.
type RiskScore struct {
	Path    string   `json:"path" db:"path"`
	Score   float64  `json:"score" db:"score"`
	Reasons []string `json:"reasons"`
}

// RiskReport aggregates all risk scores for a run, ordered by score
// descending. Written once, before any review stage runs.
type RiskReport struct {
	RunID       string      `json:"run_id"`
	GeneratedAt time.Time   `json:"generated_at"`
	TotalLOC    int         `json:"total_loc"`
	Files       []RiskEntry `json:"files"`
}

// RiskEntry is one file's row in the risk report.
type RiskEntry struct {
	Path    string   `json:"path"`
	LOC     int      `json:"loc"`
	IsTest  bool     `json:"is_test"`
	IsDoc   bool     `json:"is_doc"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// Batch is a budget-bounded, order-preserving partition of the changeset.
// Either TotalLOC fits the configured budget or the batch holds exactly one
// oversized record; a file's hunks are never split across batches.
type Batch struct {
	Index    int            `json:"index"`
	Records  []ChangeRecord `json:"records"`
	TotalLOC int            `json:"total_loc"`
}

// Paths returns the file paths in the batch, in order.
func (b Batch) Paths() []string {
	paths := make([]string, len(b.Records))
	for i, r := range b.Records {
		paths[i] = r.Path
	}
	return paths
}

// Verdict is the outcome of one stage evaluation.
type Verdict string

const (
	VerdictPass  Verdict = "PASS"
	VerdictFail  Verdict = "FAIL"
	VerdictError Verdict = "ERROR"
)

// Severity classifies a finding. BLOCK findings fail the gate.
type Severity string

const (
	SeverityInfo  Severity = "INFO"
	SeverityWarn  Severity = "WARN"
	SeverityBlock Severity = "BLOCK"
)

// Finding is a single reported issue, optionally pinned to a file/line.
type Finding struct {
	Path       string   `json:"path"`
	Line       int      `json:"line,omitempty"`
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
}

// StageResult is the persisted output of one stage evaluation attempt.
type StageResult struct {
	RunID      string    `json:"run_id" db:"run_id"`
	BatchIndex int       `json:"batch_index" db:"batch_index"`
	StageName  string    `json:"stage_name" db:"stage_name"`
	Attempt    int       `json:"attempt" db:"attempt"`
	Verdict    Verdict   `json:"verdict" db:"verdict"`
	Findings   []Finding `json:"findings"`
	Raw        string    `json:"raw,omitempty" db:"raw"`
	Err        string    `json:"error,omitempty" db:"error"`
	StartedAt  time.Time `json:"started_at" db:"started_at"`
	FinishedAt time.Time `json:"finished_at" db:"finished_at"`
}

// Blocking returns the BLOCK-severity findings of the result.
func (r StageResult) Blocking() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityBlock {
			out = append(out, f)
		}
	}
	return out
}

// FixResult is the output of one fix attempt over a batch.
type FixResult struct {
	RunID      string    `json:"run_id"`
	BatchIndex int       `json:"batch_index"`
	Attempt    int       `json:"attempt"`
	Applied    bool      `json:"applied"`
	Summary    string    `json:"summary,omitempty"`
	Raw        string    `json:"raw,omitempty"`
	Err        string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// BatchState is the orchestrator state machine position for one batch.
type BatchState string

const (
	BatchPending   BatchState = "PENDING"
	BatchReviewing BatchState = "REVIEWING"
	BatchGating    BatchState = "GATING"
	BatchFixing    BatchState = "FIXING"
	BatchDone      BatchState = "DONE"
	BatchFailed    BatchState = "FAILED"
)

// Terminal reports whether the state is DONE or FAILED.
func (s BatchState) Terminal() bool {
	return s == BatchDone || s == BatchFailed
}

// StageKey identifies a (batch, stage) result stream within a run.
type StageKey struct {
	BatchIndex int
	StageName  string
}

// RunState is the process-wide mutable state for one invocation. Owned and
// mutated exclusively by the orchestrator; other components see read-only
// snapshots.
type RunState struct {
	RunID   string
	Batches []Batch
	Cursor  int
	States  map[int]BatchState
	History map[StageKey][]StageResult
}

// NewRunState creates run state positioned at the first batch.
func NewRunState(runID string, batches []Batch) *RunState {
	states := make(map[int]BatchState, len(batches))
	for _, b := range batches {
		states[b.Index] = BatchPending
	}
	return &RunState{
		RunID:   runID,
		Batches: batches,
		States:  states,
		History: make(map[StageKey][]StageResult),
	}
}

// Record appends a stage result to the run history.
func (s *RunState) Record(res StageResult) {
	key := StageKey{BatchIndex: res.BatchIndex, StageName: res.StageName}
	s.History[key] = append(s.History[key], res)
}

// Latest returns the most recent attempt for a (batch, stage) key.
func (s *RunState) Latest(batchIndex int, stage string) (StageResult, bool) {
	results := s.History[StageKey{BatchIndex: batchIndex, StageName: stage}]
	if len(results) == 0 {
		return StageResult{}, false
	}
	return results[len(results)-1], true
}

// Outcome is the overall run status, reconstructable from artifacts alone.
type Outcome string

const (
	OutcomeClean   Outcome = "clean"   // every batch reached DONE
	OutcomeDirty   Outcome = "dirty"   // at least one batch FAILED
	OutcomeAborted Outcome = "aborted" // fatal error before review started
)

// RunStatus is the persisted per-run result record.
type RunStatus struct {
	RunID       string             `json:"run_id" db:"run_id"`
	PR          string             `json:"pr,omitempty" db:"pr"`
	Outcome     Outcome            `json:"outcome" db:"outcome"`
	Batches     int                `json:"batches" db:"batches"`
	BatchStates map[int]BatchState `json:"batch_states"`
	StartedAt   time.Time          `json:"started_at" db:"started_at"`
	FinishedAt  time.Time          `json:"finished_at" db:"finished_at"`
	Detail      string             `json:"detail,omitempty" db:"detail"`
}

// PullRequest holds the PR metadata the pipeline needs.
type PullRequest struct {
	Owner       string `json:"owner"`
	Repo        string `json:"repo"`
	Number      int    `json:"number"`
	Title       string `json:"title"`
	Description string `json:"description"`
	HeadSHA     string `json:"head_sha"`
}

// BatchContext is the immutable snapshot an evaluator receives for one
// stage call. Stages never see or mutate shared run state.
type BatchContext struct {
	RunID    string      `json:"run_id"`
	PR       PullRequest `json:"pr"`
	Batch    Batch       `json:"batch"`
	Attempt  int         `json:"attempt"`
	Blocking []Finding   `json:"blocking,omitempty"`
}
