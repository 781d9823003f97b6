package trainer

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/okian/assignml/internal/domain/model"
)

var (
	syntheticSkills = []string{
		"python", "java", "javascript", "react", "node", "sql", "docker",
		"aws", "mongodb", "postgresql", "machine learning", "ui/ux", "testing",
	}
	syntheticDepartments = []string{"engineering", "product", "design", "qa", "devops", "data science"}
	syntheticTaskTypes   = []string{
		"feature development", "bug fix", "testing", "documentation",
		"code review", "research", "deployment", "optimization",
	}
	syntheticDifficulties = []model.Difficulty{model.DifficultyEasy, model.DifficultyMedium, model.DifficultyHard}
	syntheticPriorities   = []model.Priority{model.PriorityLow, model.PriorityMedium, model.PriorityHigh, model.PriorityCritical}
)

// Generate returns n labelled rows drawn from a seeded generator. The label
// follows 0.5·skill match + seniority bonus + difficulty adjustment + N(0, 0.1).
func Generate(n int, seed int64, now time.Time) []model.TrainingData {
	if n <= 0 {
		return nil
	}
	r := rand.New(rand.NewPCG(uint64(seed), 0x5eed))
	users := make([]model.UserProfile, max(10, n/5))
	for i := range users {
		users[i] = syntheticUser(r, i, now)
	}
	tasks := make([]syntheticTask, max(10, n/2))
	for i := range tasks {
		tasks[i] = newSyntheticTask(r, i, now)
	}

	rows := make([]model.TrainingData, n)
	for i := range rows {
		u := users[r.IntN(len(users))]
		t := tasks[r.IntN(len(tasks))]

		perf := 0.5*overlap(u.Skills, t.profile.RequiredSkills) +
			seniorityBonus(u.Seniority) +
			difficultyAdjustment(t.profile.Difficulty) +
			r.NormFloat64()*0.1
		perf = clamp01(perf)

		assigned := t.created.Add(time.Duration(1+r.IntN(47)) * time.Hour)
		completed := t.created.Add(time.Duration(1+r.IntN(29)) * 24 * time.Hour)
		quality := clamp01(perf+r.NormFloat64()*0.1) * 5
		row := model.TrainingData{
			SourceEventID:    fmt.Sprintf("%s:%d-%d", model.SourceSynthetic, seed, i),
			TaskID:           t.profile.ID,
			UserID:           u.ID,
			Task:             t.profile,
			Candidate:        u,
			ActualHours:      t.actual,
			QualityScore:     model.Float(math.Round(quality*10) / 10),
			TaskStatus:       model.TaskCompleted,
			PerformanceScore: perf,
			AssignmentMethod: model.AssignmentManual,
			AssignedAt:       &assigned,
			CompletedAt:      completed,
			DataSource:       model.SourceSynthetic,
			CreatedAt:        now,
		}
		row.TimeEfficiency = TimeEfficiencyOf(t.profile.EstimatedHours, t.actual)
		rows[i] = row
	}
	return rows
}

// TimeEfficiencyOf is estimated over actual hours, nil when unknown.
func TimeEfficiencyOf(estimated float64, actual *float64) *float64 {
	if estimated <= 0 || actual == nil || *actual <= 0 {
		return nil
	}
	return model.Float(estimated / *actual)
}

type syntheticTask struct {
	profile model.TaskProfile
	actual  *float64
	created time.Time
}

func syntheticUser(r *rand.Rand, i int, now time.Time) model.UserProfile {
	skills := model.Skills{}
	for _, s := range sample(r, syntheticSkills, 3+r.IntN(6)) {
		skills[s] = model.Proficiency(1 + r.IntN(3))
	}
	util := 0.5 + r.Float64()*0.5
	return model.UserProfile{
		ID:                 fmt.Sprintf("synthetic-user-%d", i+1),
		Department:         syntheticDepartments[r.IntN(len(syntheticDepartments))],
		Seniority:          model.Seniority(1 + r.IntN(6)),
		YearsExperience:    float64(r.IntN(15)),
		Skills:             skills,
		Utilization:        model.Float(util),
		AvailableCapacity:  model.Float(1 - util),
		AvailabilityStatus: model.AvailabilityAvailable,
		FetchedAt:          now,
	}
}

func newSyntheticTask(r *rand.Rand, i int, now time.Time) syntheticTask {
	required := model.Skills{}
	for _, s := range sample(r, syntheticSkills, 1+r.IntN(5)) {
		required[s] = model.Proficiency(1 + r.IntN(3))
	}
	estimated := float64(2 + r.IntN(38))
	var actual *float64
	if r.Float64() < 0.8 {
		factor := 0.8 + r.Float64()*0.5
		if r.Float64() >= 0.7 {
			factor = 1.4 + r.Float64()*1.1
		}
		actual = model.Float(math.Round(estimated*factor*10) / 10)
	}
	return syntheticTask{
		profile: model.TaskProfile{
			ID:             fmt.Sprintf("synthetic-task-%d", i+1),
			Title:          syntheticTaskTypes[r.IntN(len(syntheticTaskTypes))],
			TaskType:       syntheticTaskTypes[r.IntN(len(syntheticTaskTypes))],
			RequiredSkills: required,
			Priority:       syntheticPriorities[r.IntN(len(syntheticPriorities))],
			Difficulty:     syntheticDifficulties[r.IntN(len(syntheticDifficulties))],
			EstimatedHours: estimated,
		},
		actual:  actual,
		created: now.AddDate(0, 0, -(1 + r.IntN(364))),
	}
}

func sample(r *rand.Rand, from []string, n int) []string {
	idx := r.Perm(len(from))
	if n > len(idx) {
		n = len(idx)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = from[idx[i]]
	}
	return out
}

// overlap is the share of required skills the candidate holds at any level.
func overlap(held, required model.Skills) float64 {
	if len(required) == 0 {
		return 0
	}
	n := 0
	for s := range required {
		if _, ok := held[s]; ok {
			n++
		}
	}
	return float64(n) / float64(len(required))
}

// seniorityBonus is 0 for INTERN rising by 0.1 a level to 0.5 for PRINCIPAL.
func seniorityBonus(s model.Seniority) float64 {
	if s == model.SeniorityUnknown {
		return 0.2
	}
	return math.Min(0.5, float64(s-1)*0.1)
}

func difficultyAdjustment(d model.Difficulty) float64 {
	switch d {
	case model.DifficultyEasy:
		return 0.1
	case model.DifficultyHard, model.DifficultyExpert:
		return -0.1
	default:
		return 0
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
