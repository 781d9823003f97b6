package scoring

import (
	"math"

	"github.com/okian/assignml/internal/domain/model"
)

// Blend of the content score. Bonuses are added on top and the result clamped.
const (
	contentCosineWeight = 0.55
	contentMatchWeight  = 0.25
	// Score of a candidate that lists no skills at all.
	noSkillsScore = 0.05
)

// Content scores proficiency-weighted skill overlap plus engineered bonuses.
type Content struct{}

// NewContent returns a content-based scorer.
func NewContent() *Content { return &Content{} }

// Score returns the content-based score of f in [0,1].
func (Content) Score(f model.CandidateFeatures) float64 {
	if len(f.CandidateSkills) == 0 {
		return noSkillsScore
	}
	sim := NeutralScore
	if len(f.RequiredSkills) > 0 {
		sim = RequiredCosine(f.RequiredSkills, f.CandidateSkills)
	}
	score := contentCosineWeight*sim +
		contentMatchWeight*f.BaseSkillMatchScore +
		f.RelatedSkillsScore +
		0.5*f.LearningPotentialScore +
		f.DomainExperienceBonus +
		0.5*f.TechStackCohesionBonus +
		f.CertificationBonus
	return clamp01(score)
}

// RequiredCosine projects the candidate onto the required skills, capping each
// level at the requirement, and returns the cosine with the requirement vector.
// Extra skills do not dilute the similarity.
func RequiredCosine(required, held map[string]float64) float64 {
	projected := make(map[string]float64, len(required))
	for name, req := range required {
		if lvl, ok := held[name]; ok {
			projected[name] = math.Min(lvl, req)
		}
	}
	return cosine(required, projected)
}
