package testevents

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/okian/assignml/internal/domain/model"
	"github.com/okian/assignml/pkg/logger"
)

var (
	taskTypes   = []string{"backend", "frontend", "data", "infra", "qa"}
	departments = []string{"engineering", "data", "operations"}
	skillPool   = []string{"go", "sql", "react", "python", "k8s", "terraform", "testing"}
)

// GeneratePairs builds cfg.Pairs task lifecycles over a workforce of cfg.Users.
// Better matched and less loaded assignees finish closer to the estimate with
// higher quality, so the generated rows carry a learnable signal.
func GeneratePairs(ctx context.Context, cfg *Config, stats *Stats) []Pair {
	logger.Get().Info(ctx, "generating event pairs", logger.Int("pairs", cfg.Pairs), logger.Int("users", cfg.Users))

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	users := make([]model.UserProfile, max(cfg.Users, 1))
	for i := range users {
		users[i] = randomUser(rng, i)
	}

	base := time.Now().UTC().AddDate(0, 0, -30).Truncate(time.Hour)
	pairs := make([]Pair, cfg.Pairs)
	for i := range pairs {
		user := users[rng.IntN(len(users))]
		task := randomTask(rng, i)
		assignedAt := base.Add(time.Duration(rng.IntN(20*24)) * time.Hour)

		fit := skillFit(task.RequiredSkills, user.Skills)
		load := 0.0
		if user.Utilization != nil {
			load = *user.Utilization
		}
		// Overrun shrinks with fit and grows with load.
		ratio := 1.6 - 0.8*fit + 0.4*load + rng.NormFloat64()*0.1
		actual := math.Max(0.5, task.EstimatedHours*ratio)
		quality := math.Max(0, math.Min(5, 2+3*fit-load+rng.NormFloat64()*0.4))

		pairs[i] = Pair{
			Assignment: model.EventRecord{
				EventID:          fmt.Sprintf("load-a-%d-%d", cfg.Seed, i),
				EventType:        model.EventTaskAssignment,
				OccurredAt:       assignedAt,
				TaskID:           task.ID,
				UserID:           user.ID,
				TaskType:         task.TaskType,
				AssignmentMethod: model.AssignmentRecommended,
				Task:             &task,
				Candidate:        &user,
			},
			Completion: model.EventRecord{
				EventID:        fmt.Sprintf("load-c-%d-%d", cfg.Seed, i),
				EventType:      model.EventTaskCompletion,
				OccurredAt:     assignedAt.Add(time.Duration(actual * float64(time.Hour))),
				TaskID:         task.ID,
				UserID:         user.ID,
				TaskType:       task.TaskType,
				EstimatedHours: model.Float(task.EstimatedHours),
				ActualHours:    model.Float(math.Round(actual*10) / 10),
				QualityScore:   model.Float(math.Round(quality*10) / 10),
				TaskStatus:     model.TaskCompleted,
			},
		}
	}
	stats.PairsGenerated = len(pairs)
	return pairs
}

func randomUser(rng *rand.Rand, i int) model.UserProfile {
	skills := model.Skills{}
	for _, s := range pick(rng, skillPool, 2+rng.IntN(3)) {
		skills[s] = model.Proficiency(1 + rng.IntN(int(model.ProficiencyMaster)))
	}
	return model.UserProfile{
		ID:                 fmt.Sprintf("user-%04d", i),
		Department:         departments[rng.IntN(len(departments))],
		Seniority:          model.Seniority(1 + rng.IntN(int(model.SeniorityDirector))),
		YearsExperience:    float64(rng.IntN(15)),
		Skills:             skills,
		Utilization:        model.Float(math.Round(rng.Float64()*100) / 100),
		PerformanceRating:  model.Float(math.Round((2+rng.Float64()*3)*10) / 10),
		TaskSuccessRate:    model.Float(math.Round((0.5+rng.Float64()*0.5)*100) / 100),
		AvailabilityStatus: model.AvailabilityAvailable,
	}
}

func randomTask(rng *rand.Rand, i int) model.TaskProfile {
	required := model.Skills{}
	for _, s := range pick(rng, skillPool, 1+rng.IntN(3)) {
		required[s] = model.Proficiency(1 + rng.IntN(int(model.ProficiencyExpert)))
	}
	return model.TaskProfile{
		ID:             fmt.Sprintf("load-task-%d", i),
		TaskType:       taskTypes[rng.IntN(len(taskTypes))],
		Department:     departments[rng.IntN(len(departments))],
		RequiredSkills: required,
		Priority:       model.Priority(1 + rng.IntN(int(model.PriorityCritical))),
		Difficulty:     model.Difficulty(1 + rng.IntN(int(model.DifficultyExpert))),
		EstimatedHours: float64(2 + rng.IntN(38)),
	}
}

// skillFit is the share of required skills the user holds at the required level.
func skillFit(required, held model.Skills) float64 {
	if len(required) == 0 {
		return 1
	}
	var met float64
	for name, level := range required {
		if have, ok := held[name]; ok {
			met += math.Min(1, float64(have)/float64(level))
		}
	}
	return met / float64(len(required))
}

func pick(rng *rand.Rand, from []string, n int) []string {
	idx := rng.Perm(len(from))
	n = min(n, len(from))
	out := make([]string, n)
	for i := range out {
		out[i] = from[idx[i]]
	}
	return out
}
