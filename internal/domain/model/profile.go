// Package model contains the domain entities passed between layers.
package model

import "time"

// Skills maps a skill name to a proficiency level.
type Skills map[string]Proficiency

// TaskProfile is the read model of a task owned by the task service.
type TaskProfile struct {
	ID             string     `json:"id" validate:"required"`
	Title          string     `json:"title,omitempty"`
	TaskType       string     `json:"taskType,omitempty"`
	Department     string     `json:"department,omitempty"`
	RequiredSkills Skills     `json:"requiredSkills,omitempty"`
	Priority       Priority   `json:"priority"`
	Difficulty     Difficulty `json:"difficulty"`
	EstimatedHours float64    `json:"estimatedHours,omitempty" validate:"gte=0"`
	FetchedAt      time.Time  `json:"fetchedAt,omitempty"`
}

// UserProfile is the read model of a candidate assembled from the profile and
// workload services. Pointer fields are nil when the owning service did not
// report them.
type UserProfile struct {
	ID                 string             `json:"id" validate:"required"`
	Name               string             `json:"name,omitempty"`
	Department         string             `json:"department,omitempty"`
	Seniority          Seniority          `json:"seniority"`
	YearsExperience    float64            `json:"yearsExperience,omitempty"`
	Skills             Skills             `json:"skills,omitempty"`
	Certifications     []string           `json:"certifications,omitempty"`
	Utilization        *float64           `json:"utilization,omitempty"`
	AvailableCapacity  *float64           `json:"availableCapacity,omitempty"`
	AvailabilityStatus AvailabilityStatus `json:"availabilityStatus"`
	Available          *bool              `json:"available,omitempty"`
	ActiveTasks        int                `json:"activeTasks,omitempty"`
	AvgActualHours     *float64           `json:"avgActualHours,omitempty"`
	PerformanceRating  *float64           `json:"performanceRating,omitempty"`
	TaskSuccessRate    *float64           `json:"taskSuccessRate,omitempty"`
	TaskTypeSuccess    map[string]float64 `json:"taskTypeSuccess,omitempty"`
	CollaborationScore *float64           `json:"collaborationScore,omitempty"`
	FetchedAt          time.Time          `json:"fetchedAt,omitempty"`
}

// Workload is the workload service's view of a candidate.
type Workload struct {
	UserID             string             `json:"userId"`
	Utilization        *float64           `json:"utilization,omitempty"`
	AvailableCapacity  *float64           `json:"availableCapacity,omitempty"`
	AvailabilityStatus AvailabilityStatus `json:"availabilityStatus"`
	ActiveTasks        int                `json:"activeTasks,omitempty"`
}

// ApplyWorkload overlays the fields the workload service reported.
func (u *UserProfile) ApplyWorkload(w Workload) {
	if w.Utilization != nil {
		u.Utilization = w.Utilization
	}
	if w.AvailableCapacity != nil {
		u.AvailableCapacity = w.AvailableCapacity
	}
	if w.AvailabilityStatus != AvailabilityUnknown {
		u.AvailabilityStatus = w.AvailabilityStatus
	}
	if w.ActiveTasks > 0 {
		u.ActiveTasks = w.ActiveTasks
	}
}

// Float returns a pointer to v. Handy for optional numeric fields.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
