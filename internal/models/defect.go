package models

import "time"

// DefectGroup is a persisted cluster of failures sharing a signature hash,
// tracked across runs. At most one group exists per hash; repeated dedup
// passes merge into the existing group instead of creating a new one.
type DefectGroup struct {
	ID                  string
	ProjectID           string
	SignatureHash       string
	PrimaryClass        PrimaryClass
	SubClass            string
	RepresentativeError string
	FirstSeen           time.Time
	LastSeen            time.Time
	OccurrenceCount     int
	MemberIDs           []string
}

// GroupSummary is the compact dedup response shape.
type GroupSummary struct {
	GroupID       string
	SignatureHash string
	MemberCount   int
}
