// Package dedup groups classified failures that share a signature hash into
// persistent defect groups.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/reportstack/triage-engine/internal/models"
	"github.com/reportstack/triage-engine/internal/normalize"
	"github.com/reportstack/triage-engine/internal/store"
)

// signatureHexLen is the truncated digest length kept in storage. Collisions
// at this length are accepted as intentional grouping.
const signatureHexLen = 16

// GroupStore is the persistence surface the deduplicator needs. FindBySignature
// returns store.ErrNotFound for unknown hashes; InsertGroup returns
// store.ErrConflict when a concurrent run created the same hash first.
type GroupStore interface {
	FindBySignature(ctx context.Context, projectID, hash string) (models.DefectGroup, error)
	InsertGroup(ctx context.Context, group models.DefectGroup) error
	UpdateGroup(ctx context.Context, group models.DefectGroup) error
}

// Deduplicator partitions failures by signature hash and persists groups of
// actual duplicates.
type Deduplicator struct {
	groups GroupStore
	logger *slog.Logger
}

// NewDeduplicator constructs a Deduplicator.
func NewDeduplicator(groups GroupStore, logger *slog.Logger) *Deduplicator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Deduplicator{groups: groups, logger: logger}
}

// Hash computes the stable signature digest for a failure. Identical input
// text always yields the identical hash.
func Hash(errorText, stackTrace string) string {
	sum := sha256.Sum256([]byte(normalize.Signature(errorText, stackTrace)))
	return hex.EncodeToString(sum[:])[:signatureHexLen]
}

// Deduplicate partitions the batch by signature hash and inserts or merges a
// defect group for every hash with at least two members. Singleton failures
// stay classified but ungrouped. Running the same batch twice yields the same
// groups with the same occurrence counts.
func (d *Deduplicator) Deduplicate(ctx context.Context, projectID string, failures []models.ClassifiedFailure) ([]models.DefectGroup, error) {
	partitions := make(map[string][]models.ClassifiedFailure)
	order := make([]string, 0)
	for _, failure := range failures {
		hash := failure.SignatureHash
		if hash == "" {
			hash = Hash(failure.Record.ErrorMessage, failure.Record.StackTrace)
		}
		if _, ok := partitions[hash]; !ok {
			order = append(order, hash)
		}
		partitions[hash] = append(partitions[hash], failure)
	}

	groups := make([]models.DefectGroup, 0)
	for _, hash := range order {
		members := partitions[hash]
		if len(members) < 2 {
			continue
		}
		group, err := d.insertOrMerge(ctx, projectID, hash, members)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}

	sort.Slice(groups, func(i, j int) bool {
		return groups[i].OccurrenceCount > groups[j].OccurrenceCount
	})
	return groups, nil
}

func (d *Deduplicator) insertOrMerge(ctx context.Context, projectID, hash string, members []models.ClassifiedFailure) (models.DefectGroup, error) {
	existing, err := d.groups.FindBySignature(ctx, projectID, hash)
	switch {
	case err == nil:
		return d.merge(ctx, existing, members)
	case errors.Is(err, store.ErrNotFound):
		group := newGroup(projectID, hash, members)
		if insertErr := d.groups.InsertGroup(ctx, group); insertErr != nil {
			if !errors.Is(insertErr, store.ErrConflict) {
				return models.DefectGroup{}, insertErr
			}
			// A concurrent dedup run created this hash first; merge into it.
			existing, err = d.groups.FindBySignature(ctx, projectID, hash)
			if err != nil {
				return models.DefectGroup{}, err
			}
			return d.merge(ctx, existing, members)
		}
		d.logger.Debug("defect group created",
			slog.String("hash", hash),
			slog.Int("members", len(members)))
		return group, nil
	default:
		return models.DefectGroup{}, err
	}
}

func (d *Deduplicator) merge(ctx context.Context, group models.DefectGroup, members []models.ClassifiedFailure) (models.DefectGroup, error) {
	seen := make(map[string]struct{}, len(group.MemberIDs))
	for _, id := range group.MemberIDs {
		seen[id] = struct{}{}
	}
	for _, member := range members {
		if _, ok := seen[member.Record.ID]; ok {
			continue
		}
		seen[member.Record.ID] = struct{}{}
		group.MemberIDs = append(group.MemberIDs, member.Record.ID)
		if ts := member.Record.Timestamp; !ts.IsZero() {
			if group.FirstSeen.IsZero() || ts.Before(group.FirstSeen) {
				group.FirstSeen = ts
			}
			if ts.After(group.LastSeen) {
				group.LastSeen = ts
			}
		}
	}
	group.OccurrenceCount = len(group.MemberIDs)

	if err := d.groups.UpdateGroup(ctx, group); err != nil {
		return models.DefectGroup{}, err
	}
	d.logger.Debug("defect group merged",
		slog.String("hash", group.SignatureHash),
		slog.Int("occurrences", group.OccurrenceCount))
	return group, nil
}

func newGroup(projectID, hash string, members []models.ClassifiedFailure) models.DefectGroup {
	group := models.DefectGroup{
		ID:            uuid.NewString(),
		ProjectID:     projectID,
		SignatureHash: hash,
		PrimaryClass:  members[0].Classification.PrimaryClass,
		SubClass:      members[0].Classification.SubClass,
	}

	first, last := time.Time{}, time.Time{}
	for _, member := range members {
		group.MemberIDs = append(group.MemberIDs, member.Record.ID)
		if msg := member.Record.ErrorMessage; msg != "" {
			// Shortest member error doubles as the human-scannable representative.
			if group.RepresentativeError == "" || len(msg) < len(group.RepresentativeError) {
				group.RepresentativeError = msg
			}
		}
		ts := member.Record.Timestamp
		if ts.IsZero() {
			continue
		}
		if first.IsZero() || ts.Before(first) {
			first = ts
		}
		if ts.After(last) {
			last = ts
		}
	}
	group.FirstSeen = first
	group.LastSeen = last
	group.OccurrenceCount = len(group.MemberIDs)
	return group
}
