package core

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/JonMunkholm/routemigrate/internal/logging"
	"github.com/JonMunkholm/routemigrate/internal/models"
	"golang.org/x/text/cases"
)

// Strategy names reported with a comparison.
const (
	StrategySimple   = "simple"
	StrategyAdvanced = "advanced"
)

// ConflictInfo explains why a source record is considered present in the
// target. The simple strategy fills RouteID; the advanced strategy fills
// MatchingRecord and Differences, which is empty rather than nil when
// nothing differs.
type ConflictInfo struct {
	RouteID        string              `json:"routeId,omitempty"`
	MatchingRecord *models.RouteRecord `json:"matchingRecord,omitempty"`
	Differences    []string            `json:"differences,omitzero"`
}

// Annotation is the per-record result of a MatchStrategy.
type Annotation struct {
	ExistsInTarget bool
	CanUpdate      bool
	Conflict       *ConflictInfo
}

// MatchStrategy decides whether a source record already exists in the
// target table. Implementations index the target once at construction so
// Annotate is cheap per record.
type MatchStrategy interface {
	Name() string
	Annotate(rec *models.RouteRecord) Annotation
}

// AdvancedFilter selects the advanced strategy: records are the same entity
// when every SameFields entry matches case-insensitively, and can be
// updated when any DifferentFields entry differs exactly.
//
// Field names may be API keys ("routeId") or spreadsheet headers ("id").
type AdvancedFilter struct {
	Enabled         bool     `json:"enabled"`
	SameFields      []string `json:"sameFields"`
	DifferentFields []string `json:"differentFields"`
}

// DecodeAdvancedFilter parses the advanced filter query parameter. Blank
// input yields nil. Malformed input is logged and also yields nil, so the
// comparison falls back to the simple strategy instead of failing.
func DecodeAdvancedFilter(ctx context.Context, raw string) *AdvancedFilter {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var f AdvancedFilter
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		logging.FromContext(ctx).Warn("ignoring malformed advanced filter", "error", err)
		return nil
	}
	return &f
}

// foldKey normalizes a value for case-insensitive matching.
func foldKey(c cases.Caser, s string) string {
	return c.String(s)
}

// simpleStrategy matches on the route identifier, ignoring case.
type simpleStrategy struct {
	fold cases.Caser
	ids  map[string]struct{}
}

// newSimpleStrategy indexes target identifiers. Empty identifiers are not
// indexed, so they never match.
func newSimpleStrategy(targetIDs []string) *simpleStrategy {
	s := &simpleStrategy{fold: cases.Fold(), ids: make(map[string]struct{}, len(targetIDs))}
	for _, id := range targetIDs {
		if id == "" {
			continue
		}
		s.ids[foldKey(s.fold, id)] = struct{}{}
	}
	return s
}

func (s *simpleStrategy) Name() string { return StrategySimple }

func (s *simpleStrategy) Annotate(rec *models.RouteRecord) Annotation {
	if rec.RouteID == nil || *rec.RouteID == "" {
		return Annotation{}
	}
	if _, ok := s.ids[foldKey(s.fold, *rec.RouteID)]; !ok {
		return Annotation{}
	}
	return Annotation{
		ExistsInTarget: true,
		Conflict:       &ConflictInfo{RouteID: *rec.RouteID},
	}
}

// namedField is a resolved filter field together with the name the caller
// used for it, which is what differences are reported as.
type namedField struct {
	name string
	spec *FieldSpec
}

// advancedStrategy matches on a caller-chosen set of fields.
type advancedStrategy struct {
	fold    cases.Caser
	same    []namedField
	diff    []namedField
	targets []models.RouteRecord
	index   map[string]int // composite same-field key -> first target position
}

// resolveFields maps filter names to specs, dropping unknown names.
func resolveFields(ctx context.Context, names []string) []namedField {
	out := make([]namedField, 0, len(names))
	for _, n := range names {
		spec, ok := LookupField(n)
		if !ok {
			logging.FromContext(ctx).Warn("ignoring unknown advanced filter field", "field", n)
			continue
		}
		out = append(out, namedField{name: strings.TrimSpace(n), spec: spec})
	}
	return out
}

func newAdvancedStrategy(same, diff []namedField, targets []models.RouteRecord) *advancedStrategy {
	s := &advancedStrategy{
		fold:    cases.Fold(),
		same:    same,
		diff:    diff,
		targets: targets,
		index:   make(map[string]int, len(targets)),
	}
	for i := range targets {
		k := s.key(&targets[i])
		if _, seen := s.index[k]; !seen {
			s.index[k] = i
		}
	}
	return s
}

// key joins the case-folded same-field values. Equal keys are exactly the
// pairs that agree on every same field, so the first indexed target is the
// first match a linear scan would find.
func (s *advancedStrategy) key(rec *models.RouteRecord) string {
	var b strings.Builder
	for i, f := range s.same {
		if i > 0 {
			b.WriteByte(0)
		}
		b.WriteString(foldKey(s.fold, f.spec.Text(&rec.RouteFields)))
	}
	return b.String()
}

func (s *advancedStrategy) Name() string { return StrategyAdvanced }

func (s *advancedStrategy) Annotate(rec *models.RouteRecord) Annotation {
	i, ok := s.index[s.key(rec)]
	if !ok {
		return Annotation{}
	}
	match := s.targets[i]

	differences := []string{}
	for _, f := range s.diff {
		if f.spec.Text(&rec.RouteFields) != f.spec.Text(&match.RouteFields) {
			differences = append(differences, f.name)
		}
	}

	return Annotation{
		ExistsInTarget: true,
		CanUpdate:      len(differences) > 0,
		Conflict: &ConflictInfo{
			MatchingRecord: &match,
			Differences:    differences,
		},
	}
}

// newStrategy loads what the chosen strategy needs from the target table.
// An advanced filter that is disabled or names no known same-field falls
// back to the simple strategy.
func (s *Service) newStrategy(ctx context.Context, store Store, targetID int64, filter *AdvancedFilter) (MatchStrategy, error) {
	if filter != nil && filter.Enabled {
		same := resolveFields(ctx, filter.SameFields)
		if len(same) > 0 {
			targets, err := store.ListRecords(ctx, targetID)
			if err != nil {
				return nil, err
			}
			return newAdvancedStrategy(same, resolveFields(ctx, filter.DifferentFields), targets), nil
		}
		logging.FromContext(ctx).Warn("advanced filter has no usable sameFields, using simple matching")
	}

	ids, err := store.ListRouteIDs(ctx, targetID)
	if err != nil {
		return nil, err
	}
	return newSimpleStrategy(ids), nil
}
