// Package catalog exposes the read side of the unit/level catalog: ordered
// unit and level listings plus unit-prerequisite checks. Authoring happens
// offline; nothing here mutates content on a learner's behalf.
package catalog

import (
	"context"
	"fmt"

	"golang.org/x/text/language"

	"github.com/lit-platform/progression/internal/curriculum"
	"github.com/lit-platform/progression/internal/graph"
)

// ProgressReader supplies the learner's completed unit set. Implemented by
// the progress ledger.
type ProgressReader interface {
	CompletedUnitIDs(ctx context.Context, learnerID string) ([]string, error)
}

// Catalog answers read queries over published units and levels.
type Catalog struct {
	store    Store
	progress ProgressReader
}

// New creates a catalog over a store. progress may be nil if prerequisite
// checks are not needed (pure content reads).
func New(store Store, progress ProgressReader) *Catalog {
	return &Catalog{store: store, progress: progress}
}

// Publish loads authored content into the catalog store.
func (c *Catalog) Publish(ctx context.Context, unit curriculum.Unit, levels []curriculum.Level) error {
	return c.store.SaveUnit(ctx, unit, levels)
}

// ListUnits returns a topic's units ordered by unit_order, filtered to the
// requested language. Matching is by BCP-47 base language, so "en-AU"
// units serve an "en" request.
func (c *Catalog) ListUnits(ctx context.Context, topicID, lang string) ([]curriculum.Unit, error) {
	units, err := c.store.ListUnits(ctx, topicID)
	if err != nil {
		return nil, fmt.Errorf("list units: %w", err)
	}
	if lang == "" {
		return units, nil
	}

	var out []curriculum.Unit
	for _, u := range units {
		if languageMatches(u.Language, lang) {
			out = append(out, u)
		}
	}
	return out, nil
}

// ListLevels returns a unit's levels in order.
func (c *Catalog) ListLevels(ctx context.Context, unitID string) ([]curriculum.Level, error) {
	return c.store.ListLevels(ctx, unitID)
}

// GetUnit returns a unit by id.
func (c *Catalog) GetUnit(ctx context.Context, id string) (curriculum.Unit, error) {
	return c.store.GetUnit(ctx, id)
}

// GetLevel returns a level by id.
func (c *Catalog) GetLevel(ctx context.Context, id string) (curriculum.Level, error) {
	return c.store.GetLevel(ctx, id)
}

// UnitPrerequisitesSatisfied checks the unit's explicit prerequisite list
// against the learner's completed units. Unit prerequisites are authored
// independently from topic edges, so this does not consult the topic graph.
// Returns the missing unit ids when unsatisfied.
func (c *Catalog) UnitPrerequisitesSatisfied(ctx context.Context, learnerID, unitID string) (bool, []string, error) {
	unit, err := c.store.GetUnit(ctx, unitID)
	if err != nil {
		return false, nil, err
	}
	if len(unit.PrerequisiteUnitIDs) == 0 {
		return true, nil, nil
	}

	completedIDs, err := c.progress.CompletedUnitIDs(ctx, learnerID)
	if err != nil {
		return false, nil, fmt.Errorf("completed units for %s: %w", learnerID, err)
	}

	missing := graph.Satisfied(unit.PrerequisiteUnitIDs, graph.NewCompletedSet(completedIDs...))
	return len(missing) == 0, missing, nil
}

// NoteAttempt freezes a unit's content after its first recorded attempt.
// Called by the progress ledger, never by learner-facing reads.
func (c *Catalog) NoteAttempt(ctx context.Context, unitID string) error {
	return c.store.MarkAttempted(ctx, unitID)
}

// UnitFingerprint returns the content hash the immutability check uses.
func (c *Catalog) UnitFingerprint(ctx context.Context, unitID string) (string, error) {
	unit, err := c.store.GetUnit(ctx, unitID)
	if err != nil {
		return "", err
	}
	levels, err := c.store.ListLevels(ctx, unitID)
	if err != nil {
		return "", err
	}
	return curriculum.Fingerprint(unit, levels), nil
}

func languageMatches(unitLang, want string) bool {
	ut, err := language.Parse(unitLang)
	if err != nil {
		return unitLang == want
	}
	wt, err := language.Parse(want)
	if err != nil {
		return unitLang == want
	}
	ub, _ := ut.Base()
	wb, _ := wt.Base()
	return ub == wb
}
