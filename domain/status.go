package domain

import "strings"

// JobStatus is the internal lifecycle state of a Job. It is a closed sum
// type: the switch in every consumer (executor, joblifecycle, httpapi) is
// expected to be exhaustive over these values.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobQueued    JobStatus = "QUEUED"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
	JobCancelled JobStatus = "CANCELLED"
	JobTimeout   JobStatus = "TIMEOUT"
	JobTerminated JobStatus = "TERMINATED"
)

// Terminal reports whether no further transitions are valid from this status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobCancelled, JobTimeout, JobTerminated:
		return true
	default:
		return false
	}
}

// validJobTransitions is the allowed-next-state table used by the CAS
// guard in storage.JobRepository.UpdateStatusCAS.
var validJobTransitions = map[JobStatus]map[JobStatus]bool{
	JobPending: {JobQueued: true, JobCancelled: true},
	// QUEUED -> PENDING is the rollback joblifecycle.Manager.Enqueue
	// performs when the broker push fails after the CAS.
	JobQueued: {JobRunning: true, JobCancelled: true, JobPending: true},
	JobRunning: {
		JobRunning:    true, // progress updates re-enter the same state
		JobCompleted:  true,
		JobFailed:     true,
		JobCancelled:  true,
		JobTimeout:    true,
		JobTerminated: true,
	},
}

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to JobStatus) bool {
	next, ok := validJobTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// APIStatus is the status vocabulary exposed over HTTP, which subdivides
// RUNNING into human-meaningful phases.
type APIStatus string

const (
	APIPending             APIStatus = "pending"
	APIExtractingText      APIStatus = "extracting_text"
	APITranslating         APIStatus = "translating"
	APILanguageTranslating APIStatus = "language_translating"
	APICompleted           APIStatus = "completed"
	APIError               APIStatus = "error"
	APICancelled           APIStatus = "cancelled"
	APITerminated          APIStatus = "terminated"
)

// PhaseForStep derives the coarse human-readable phase a RUNNING job's
// current step belongs to, by the same name-hint convention the feedback
// analyzer uses to reconstruct a job's texts: a step name containing
// "language_translat" is the language-translation phase, "translat" alone
// is the main translation phase, anything else (including OCR/PII/
// classification steps) is reported as extracting_text, since that is the
// pipeline's opening phase and the safest default for an unrecognized step
// name.
func PhaseForStep(stepName string) APIStatus {
	name := strings.ToLower(stepName)
	switch {
	case strings.Contains(name, "language_translat"):
		return APILanguageTranslating
	case strings.Contains(name, "translat"):
		return APITranslating
	default:
		return APIExtractingText
	}
}

// StepStatus is the outcome of one StepExecution.
type StepStatus string

const (
	StepPending   StepStatus = "PENDING"
	StepRunning   StepStatus = "RUNNING"
	StepCompleted StepStatus = "COMPLETED"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
)

// CircuitStateLabel mirrors resilience.CircuitState as a string for
// persistence/serialization boundaries that should not import the
// resilience package directly (keeps domain dependency-free).
type CircuitStateLabel string

const (
	CircuitClosed   CircuitStateLabel = "closed"
	CircuitOpen     CircuitStateLabel = "open"
	CircuitHalfOpen CircuitStateLabel = "half-open"
)

// OCREngine is the selectable extraction strategy.
type OCREngine string

const (
	EngineLocalText OCREngine = "LOCAL_TEXT"
	EngineLocalOCR  OCREngine = "LOCAL_OCR"
	EngineVisionLLM OCREngine = "VISION_LLM"
	EngineHybrid    OCREngine = "HYBRID"
)

// AnalysisStatus is the outcome of a feedback quality analysis task.
type AnalysisStatus string

const (
	AnalysisCompleted AnalysisStatus = "COMPLETED"
	AnalysisFailed    AnalysisStatus = "FAILED"
	AnalysisSkipped   AnalysisStatus = "SKIPPED"
)
