package models

import "time"

// FailureRecord is a failed test case as returned by the reporting backend.
// The engine never mutates these; classification results are stored separately
// keyed by the record ID.
type FailureRecord struct {
	ID           string
	TestName     string
	ErrorMessage string
	StackTrace   string
	Duration     time.Duration
	Environment  string
	RunID        string
	Timestamp    time.Time
}

// PrimaryClass is the top level of the two-level failure taxonomy.
type PrimaryClass string

const (
	ClassEnvironmentIssue      PrimaryClass = "EnvironmentIssue"
	ClassAutomationScriptError PrimaryClass = "AutomationScriptError"
	ClassTestDataIssue         PrimaryClass = "TestDataIssue"
	ClassApplicationDefect     PrimaryClass = "ApplicationDefect"
	ClassUnknown               PrimaryClass = "Unknown"
)

// ParsePrimaryClass validates a class name from an external caller.
func ParsePrimaryClass(s string) (PrimaryClass, bool) {
	switch PrimaryClass(s) {
	case ClassEnvironmentIssue, ClassAutomationScriptError, ClassTestDataIssue,
		ClassApplicationDefect, ClassUnknown:
		return PrimaryClass(s), true
	}
	return "", false
}

// Classification is the stored verdict for one test case. A manual
// classification carries confidence 1.0 and is never overwritten by an
// automatic pass.
type Classification struct {
	TestCaseID   string
	PrimaryClass PrimaryClass
	SubClass     string
	Confidence   float64
	IsManual     bool
	ClassifiedAt time.Time
}

// ClassifiedFailure pairs a failure record with its classification for
// deduplication and list responses.
type ClassifiedFailure struct {
	Record         FailureRecord
	Classification Classification
	SignatureHash  string
}
