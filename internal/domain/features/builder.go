// Package features turns task and candidate read models into normalised
// per-pair feature sets.
package features

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/pkg/logger"
)

// ErrMalformedCandidate marks a candidate record that cannot be scored.
var ErrMalformedCandidate = errors.New("malformed candidate")

const (
	// Utilisation above this is treated as a corrupt record rather than overbooking.
	maxPlausibleUtilization = 1.5
	// Required skills without a level are treated as INTERMEDIATE.
	defaultRequiredLevel = float64(model.ProficiencyIntermediate)
	// Neutral match for tasks that list no skills.
	neutralSkillMatch = 0.5
)

// Skipped describes a candidate dropped from a batch.
type Skipped struct {
	UserID string `json:"userId"`
	Reason string `json:"reason"`
}

// Builder builds CandidateFeatures. It is safe for concurrent use.
type Builder struct {
	log logger.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger overrides the component logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{}
	for _, opt := range opts {
		opt(b)
	}
	if b.log == nil {
		b.log = logger.Named("features")
	}
	return b
}

// Build returns one feature set per well-formed candidate, in input order.
// Malformed candidates are logged and reported in the second return value.
func (b *Builder) Build(ctx context.Context, task model.TaskProfile, candidates []model.UserProfile) ([]model.CandidateFeatures, []Skipped) {
	out := make([]model.CandidateFeatures, 0, len(candidates))
	var skipped []Skipped
	seen := make(map[string]struct{}, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if _, dup := seen[c.ID]; dup && c.ID != "" {
			skipped = append(skipped, Skipped{UserID: c.ID, Reason: "duplicate candidate"})
			continue
		}
		f, err := b.BuildOne(task, *c)
		if err != nil {
			b.log.Warn(ctx, "skipping candidate",
				logger.String("task_id", task.ID), logger.String("user_id", c.ID), logger.Error(err))
			skipped = append(skipped, Skipped{UserID: c.ID, Reason: err.Error()})
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, f)
	}
	return out, skipped
}

// BuildOne builds the features of a single pair.
func (b *Builder) BuildOne(task model.TaskProfile, c model.UserProfile) (model.CandidateFeatures, error) {
	if err := checkCandidate(c); err != nil {
		return model.CandidateFeatures{}, err
	}

	required := normalizeRequired(task.RequiredSkills)
	held := normalizeHeld(c.Skills)

	f := model.CandidateFeatures{
		TaskID:             task.ID,
		UserID:             c.ID,
		TaskType:           strings.ToLower(strings.TrimSpace(task.TaskType)),
		TaskDepartment:     task.Department,
		Department:         c.Department,
		RequiredSkills:     required,
		CandidateSkills:    held,
		Certifications:     c.Certifications,
		Seniority:          c.Seniority,
		YearsExperience:    math.Max(0, c.YearsExperience),
		AvailabilityStatus: c.AvailabilityStatus,
		ActiveTasks:        c.ActiveTasks,
		Priority:           task.Priority,
		Difficulty:         task.Difficulty,
		EstimatedHours:     math.Max(0, task.EstimatedHours),
	}

	f.BaseSkillMatchScore, f.MatchedSkills, f.MissingSkills = skillMatch(required, held)
	f.RelatedSkillsScore = relatedSkillsScore(required, held, f.MissingSkills)
	f.LearningPotentialScore = learningPotential(required, held, c.Seniority)
	f.DomainExperienceBonus = domainExperience(required, held)
	f.TechStackCohesionBonus = techStackCohesion(required, held)
	f.CertificationBonus = certificationBonus(required, c.Certifications)

	f.Utilization, f.AvailableCapacity = workload(c)
	f.AvailabilityScore = AvailabilityScore(c.AvailabilityStatus, c.Available, c.ActiveTasks)
	f.AvgActualHours = orZero(c.AvgActualHours)
	if c.PerformanceRating != nil {
		f.PerformanceScore = clamp01(*c.PerformanceRating / 5)
	}
	f.TaskSuccessRate = successRate(c, f.TaskType)
	f.CollaborationScore = clamp01(orZero(c.CollaborationScore))
	return f, nil
}

func checkCandidate(c model.UserProfile) error {
	if strings.TrimSpace(c.ID) == "" {
		return fmt.Errorf("%w: empty id", ErrMalformedCandidate)
	}
	optional := []struct {
		name string
		v    *float64
	}{
		{"utilization", c.Utilization},
		{"availableCapacity", c.AvailableCapacity},
		{"avgActualHours", c.AvgActualHours},
		{"performanceRating", c.PerformanceRating},
		{"taskSuccessRate", c.TaskSuccessRate},
		{"collaborationScore", c.CollaborationScore},
	}
	for _, o := range optional {
		if o.v != nil && (math.IsNaN(*o.v) || math.IsInf(*o.v, 0) || *o.v < 0) {
			return fmt.Errorf("%w: %s=%v", ErrMalformedCandidate, o.name, *o.v)
		}
	}
	if math.IsNaN(c.YearsExperience) || c.YearsExperience < 0 {
		return fmt.Errorf("%w: yearsExperience=%v", ErrMalformedCandidate, c.YearsExperience)
	}
	if c.Utilization != nil && *c.Utilization > maxPlausibleUtilization {
		return fmt.Errorf("%w: utilization=%v", ErrMalformedCandidate, *c.Utilization)
	}
	if c.PerformanceRating != nil && *c.PerformanceRating > 5 {
		return fmt.Errorf("%w: performanceRating=%v", ErrMalformedCandidate, *c.PerformanceRating)
	}
	if c.ActiveTasks < 0 {
		return fmt.Errorf("%w: activeTasks=%d", ErrMalformedCandidate, c.ActiveTasks)
	}
	return nil
}

func normalizeRequired(skills model.Skills) map[string]float64 {
	out := make(map[string]float64, len(skills))
	for name, lvl := range skills {
		key := NormalizeSkill(name)
		if key == "" {
			continue
		}
		v := lvl.Level()
		if v == 0 {
			v = defaultRequiredLevel
		}
		out[key] = math.Max(out[key], v)
	}
	return out
}

func normalizeHeld(skills model.Skills) map[string]float64 {
	out := make(map[string]float64, len(skills))
	for name, lvl := range skills {
		key := NormalizeSkill(name)
		if key == "" || lvl == model.ProficiencyUnknown {
			continue
		}
		out[key] = math.Max(out[key], lvl.Level())
	}
	return out
}

// skillMatch is Σ min(held, required) / Σ required over the required skills.
func skillMatch(required, held map[string]float64) (float64, []string, []string) {
	if len(required) == 0 {
		return neutralSkillMatch, nil, nil
	}
	var got, want float64
	var matched, missing []string
	for name, req := range required {
		want += req
		if lvl, ok := held[name]; ok {
			got += math.Min(lvl, req)
			matched = append(matched, name)
		} else {
			missing = append(missing, name)
		}
	}
	sort.Strings(matched)
	sort.Strings(missing)
	return clamp01(got / want), matched, missing
}

func relatedSkillsScore(required, held map[string]float64, missing []string) float64 {
	if len(required) == 0 || len(missing) == 0 {
		return 0
	}
	hits := 0
	for _, m := range missing {
		for _, rel := range relatedSkills[m] {
			if held[rel] >= float64(model.ProficiencyIntermediate) {
				hits++
				break
			}
		}
	}
	return math.Min(0.3, float64(hits)/float64(len(required))*0.5)
}

func learningPotential(required, held map[string]float64, seniority model.Seniority) float64 {
	var score float64
	_, needsNode := required["node.js"]
	node := held["node.js"]
	if needsNode && held["javascript"] >= 4 && node < 3 {
		score += 0.15
	}
	if needsNode && held["typescript"] >= 4 && node > 0 && node < 3 {
		score += 0.10
	}
	if anyIn(required, paymentSkills) && anyIn(held, paymentSkills) {
		score += 0.12
	}
	if seniority >= model.SenioritySenior {
		score += 0.08
	}
	if countIn(held, jsFrameworks) >= 2 {
		score += 0.10
	}
	return math.Min(0.35, score)
}

func domainExperience(required, held map[string]float64) float64 {
	var score float64
	families := []struct {
		skills map[string]struct{}
		bonus  float64
	}{
		{paymentSkills, 0.15},
		{apiSkills, 0.12},
		{databaseSkills, 0.10},
		{devopsSkills, 0.12},
	}
	for _, fam := range families {
		if anyIn(required, fam.skills) && anyIn(held, fam.skills) {
			score += fam.bonus
		}
	}
	return math.Min(0.25, score)
}

func techStackCohesion(required, held map[string]float64) float64 {
	if !anyIn(required, frontendSkills) && !anyIn(required, backendSkills) && !anyIn(required, mernSkills) {
		return 0
	}
	var score float64
	switch n := countIn(held, mernSkills); {
	case n >= 3:
		score += 0.20
	case n == 2:
		score += 0.10
	}
	if anyIn(held, frontendSkills) && anyIn(held, backendSkills) {
		score += 0.15
	}
	return math.Min(0.25, score)
}

func certificationBonus(required map[string]float64, certs []string) float64 {
	var score float64
	for _, cert := range certs {
		c := NormalizeSkill(cert)
		for skill := range required {
			if strings.Contains(c, skill) {
				score += 0.05
				break
			}
		}
	}
	return math.Min(0.15, score)
}

// workload returns (utilisation, available capacity). Unknown means fully utilised.
func workload(c model.UserProfile) (float64, float64) {
	switch {
	case c.Utilization != nil:
		u := clamp01(*c.Utilization)
		if c.AvailableCapacity != nil {
			return u, clamp01(*c.AvailableCapacity)
		}
		return u, 1 - u
	case c.AvailableCapacity != nil:
		capacity := clamp01(*c.AvailableCapacity)
		return 1 - capacity, capacity
	default:
		return 1, 0
	}
}

// AvailabilityScore scores a candidate's availability in [0.1, 0.9].
func AvailabilityScore(status model.AvailabilityStatus, available *bool, activeTasks int) float64 {
	var score float64
	switch status {
	case model.AvailabilityAvailable:
		score = 0.9
	case model.AvailabilityBusy:
		score = 0.4
	case model.AvailabilityUnavailable:
		score = 0.1
	default:
		score = 0.5
	}
	if available != nil && !*available {
		score *= 0.3
	}
	if activeTasks > 0 {
		score -= math.Min(0.5, math.Log(float64(activeTasks)+1)/10)
	}
	return math.Max(0.1, score)
}

func successRate(c model.UserProfile, taskType string) float64 {
	if taskType != "" {
		for k, v := range c.TaskTypeSuccess {
			if strings.EqualFold(strings.TrimSpace(k), taskType) {
				return clamp01(v)
			}
		}
	}
	return clamp01(orZero(c.TaskSuccessRate))
}

func orZero(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
