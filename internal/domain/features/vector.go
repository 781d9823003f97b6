package features

import (
	"math"

	"github.com/okian/assignml/internal/domain/model"
)

// Meta carries the scorer outputs fed to the ensemble predictor as meta-features.
type Meta struct {
	Content       float64
	Collaborative float64
	AHP           float64
}

var featureNames = []string{
	"base_skill_match",
	"related_skills",
	"learning_potential",
	"domain_experience",
	"tech_stack_cohesion",
	"certification",
	"seniority",
	"years_experience",
	"utilization",
	"available_capacity",
	"avg_actual_hours",
	"performance",
	"task_success_rate",
	"collaboration",
	"availability",
	"priority",
	"difficulty",
	"estimated_hours",
	"content_score",
	"collaborative_score",
	"ahp_score",
}

// FeatureNames returns the column names of Vector, in order.
func FeatureNames() []string {
	out := make([]string, len(featureNames))
	copy(out, featureNames)
	return out
}

// Dim is the length of every vector.
func Dim() int { return len(featureNames) }

// Vector projects features and meta-features onto the fixed predictor input.
// Every column is scaled into [0,1].
func Vector(f model.CandidateFeatures, m Meta) []float64 {
	return []float64{
		f.BaseSkillMatchScore,
		f.RelatedSkillsScore,
		f.LearningPotentialScore,
		f.DomainExperienceBonus,
		f.TechStackCohesionBonus,
		f.CertificationBonus,
		f.Seniority.Level() / float64(model.SeniorityDirector),
		capped(f.YearsExperience, 20),
		f.Utilization,
		f.AvailableCapacity,
		capped(f.AvgActualHours, 40),
		f.PerformanceScore,
		f.TaskSuccessRate,
		f.CollaborationScore,
		f.AvailabilityScore,
		f.Priority.Weight() / float64(model.PriorityCritical),
		f.Difficulty.Weight() / 3,
		capped(f.EstimatedHours, 80),
		clamp01(m.Content),
		clamp01(m.Collaborative),
		clamp01(m.AHP),
	}
}

func capped(v, ceiling float64) float64 {
	return clamp01(math.Min(v, ceiling) / ceiling)
}
