package model

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnknownValue is returned when a non-empty enum value is not recognised.
var ErrUnknownValue = errors.New("unknown enum value")

const unknownName = "UNKNOWN"

// normalizeEnum upper-cases and joins words with underscores: "mid level" -> "MID_LEVEL".
func normalizeEnum(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	return s
}

func enumName(names []string, i int) string {
	if i <= 0 || i >= len(names) {
		return unknownName
	}
	return names[i]
}

func enumIndex(names []string, s string) int {
	n := normalizeEnum(s)
	for i := 1; i < len(names); i++ {
		if names[i] == n {
			return i
		}
	}
	return 0
}

// unmarshalEnum parses b with parse. Empty input and the literal UNKNOWN map to the
// zero value; anything else unrecognised is an error.
func unmarshalEnum[T ~uint8](kind string, b []byte, parse func(string) T) (T, error) {
	s := strings.TrimSpace(string(b))
	v := parse(s)
	if v == 0 && s != "" && normalizeEnum(s) != unknownName {
		return 0, fmt.Errorf("%w: %s %q", ErrUnknownValue, kind, s)
	}
	return v, nil
}

// Priority of a task.
type Priority uint8

const (
	PriorityUnknown Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = []string{unknownName, "LOW", "MEDIUM", "HIGH", "CRITICAL"}

func (p Priority) String() string { return enumName(priorityNames, int(p)) }

// ParsePriority maps a name to a Priority. URGENT is accepted as CRITICAL.
func ParsePriority(s string) Priority {
	if normalizeEnum(s) == "URGENT" {
		return PriorityCritical
	}
	return Priority(enumIndex(priorityNames, s))
}

// Weight is the ordinal used in feature vectors: LOW=1 .. CRITICAL=4, unknown=2.
func (p Priority) Weight() float64 {
	if p == PriorityUnknown {
		return float64(PriorityMedium)
	}
	return float64(p)
}

// RequiresExternalPass reports whether the task is important enough for the external recommender.
func (p Priority) RequiresExternalPass() bool {
	return p == PriorityHigh || p == PriorityCritical
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum("priority", b, ParsePriority)
	*p = v
	return err
}

// Difficulty of a task.
type Difficulty uint8

const (
	DifficultyUnknown Difficulty = iota
	DifficultyEasy
	DifficultyMedium
	DifficultyHard
	DifficultyExpert
)

var difficultyNames = []string{unknownName, "EASY", "MEDIUM", "HARD", "EXPERT"}

func (d Difficulty) String() string { return enumName(difficultyNames, int(d)) }

// ParseDifficulty maps a name to a Difficulty.
func ParseDifficulty(s string) Difficulty { return Difficulty(enumIndex(difficultyNames, s)) }

// Weight is EASY=1, MEDIUM=2, HARD and EXPERT=3; unknown counts as MEDIUM.
func (d Difficulty) Weight() float64 {
	switch d {
	case DifficultyEasy:
		return 1
	case DifficultyHard, DifficultyExpert:
		return 3
	default:
		return 2
	}
}

func (d Difficulty) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *Difficulty) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum("difficulty", b, ParseDifficulty)
	*d = v
	return err
}

// Proficiency is an ordinal skill level from BEGINNER=1 to MASTER=5.
type Proficiency uint8

const (
	ProficiencyUnknown Proficiency = iota
	ProficiencyBeginner
	ProficiencyIntermediate
	ProficiencyAdvanced
	ProficiencyExpert
	ProficiencyMaster
)

// MaxProficiency is the top of the ordinal scale.
const MaxProficiency = ProficiencyMaster

var proficiencyNames = []string{unknownName, "BEGINNER", "INTERMEDIATE", "ADVANCED", "EXPERT", "MASTER"}

func (p Proficiency) String() string { return enumName(proficiencyNames, int(p)) }

// ParseProficiency accepts a level name or its ordinal "1".."5".
func ParseProficiency(s string) Proficiency {
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		n := int(f + 0.5)
		if n >= int(ProficiencyBeginner) && n <= int(ProficiencyMaster) {
			return Proficiency(n)
		}
		return ProficiencyUnknown
	}
	return Proficiency(enumIndex(proficiencyNames, s))
}

// Level returns the ordinal as a float; unknown is 0.
func (p Proficiency) Level() float64 { return float64(p) }

func (p Proficiency) MarshalJSON() ([]byte, error) { return []byte(strconv.Itoa(int(p))), nil }

// UnmarshalJSON accepts numbers (4) and names ("EXPERT").
func (p *Proficiency) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*p = ProficiencyUnknown
		return nil
	}
	return p.UnmarshalText([]byte(strings.Trim(string(b), `"`)))
}

func (p *Proficiency) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum("proficiency", b, ParseProficiency)
	*p = v
	return err
}

// Seniority of a candidate.
type Seniority uint8

const (
	SeniorityUnknown Seniority = iota
	SeniorityIntern
	SeniorityJunior
	SeniorityMidLevel
	SenioritySenior
	SeniorityLead
	SeniorityPrincipal
	SeniorityDirector
)

var seniorityNames = []string{unknownName, "INTERN", "JUNIOR", "MID_LEVEL", "SENIOR", "LEAD", "PRINCIPAL", "DIRECTOR"}

func (s Seniority) String() string { return enumName(seniorityNames, int(s)) }

// ParseSeniority maps a name to a Seniority. MID is accepted as MID_LEVEL.
func ParseSeniority(s string) Seniority {
	if normalizeEnum(s) == "MID" {
		return SeniorityMidLevel
	}
	return Seniority(enumIndex(seniorityNames, s))
}

// Level returns the ordinal used in features; unknown is treated as JUNIOR.
func (s Seniority) Level() float64 {
	if s == SeniorityUnknown {
		return float64(SeniorityJunior)
	}
	return float64(s)
}

func (s Seniority) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Seniority) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum("seniority", b, ParseSeniority)
	*s = v
	return err
}

// AvailabilityStatus as reported by the workload store.
type AvailabilityStatus uint8

const (
	AvailabilityUnknown AvailabilityStatus = iota
	AvailabilityAvailable
	AvailabilityBusy
	AvailabilityUnavailable
)

var availabilityNames = []string{unknownName, "AVAILABLE", "BUSY", "UNAVAILABLE"}

func (a AvailabilityStatus) String() string { return enumName(availabilityNames, int(a)) }

// ParseAvailabilityStatus maps a name to an AvailabilityStatus.
func ParseAvailabilityStatus(s string) AvailabilityStatus {
	return AvailabilityStatus(enumIndex(availabilityNames, s))
}

func (a AvailabilityStatus) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *AvailabilityStatus) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum("availability status", b, ParseAvailabilityStatus)
	*a = v
	return err
}

// EventType of a consumed lifecycle event.
type EventType uint8

const (
	EventTypeUnknown EventType = iota
	EventTaskAssignment
	EventTaskCompletion
	EventUserProfileUpdate
)

var eventTypeNames = []string{unknownName, "TASK_ASSIGNMENT", "TASK_COMPLETION", "USER_PROFILE_UPDATE"}

func (e EventType) String() string { return enumName(eventTypeNames, int(e)) }

// ParseEventType maps a name to an EventType.
func ParseEventType(s string) EventType { return EventType(enumIndex(eventTypeNames, s)) }

func (e EventType) MarshalText() ([]byte, error) { return []byte(e.String()), nil }

func (e *EventType) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum("event type", b, ParseEventType)
	*e = v
	return err
}

// AssignmentMethod records how a task ended up with its assignee.
type AssignmentMethod uint8

const (
	AssignmentUnknown AssignmentMethod = iota
	AssignmentManual
	AssignmentRecommended
	AssignmentAuto
)

var assignmentNames = []string{unknownName, "MANUAL", "RECOMMENDED", "AUTO"}

func (a AssignmentMethod) String() string { return enumName(assignmentNames, int(a)) }

// ParseAssignmentMethod maps a name to an AssignmentMethod. ML_RECOMMENDED is accepted as RECOMMENDED.
func ParseAssignmentMethod(s string) AssignmentMethod {
	switch normalizeEnum(s) {
	case "ML_RECOMMENDED", "AI_RECOMMENDED":
		return AssignmentRecommended
	}
	return AssignmentMethod(enumIndex(assignmentNames, s))
}

func (a AssignmentMethod) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *AssignmentMethod) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum("assignment method", b, ParseAssignmentMethod)
	*a = v
	return err
}

// TaskStatus at completion time.
type TaskStatus uint8

const (
	TaskStatusUnknown TaskStatus = iota
	TaskCompleted
	TaskInProgress
	TaskCancelled
)

var taskStatusNames = []string{unknownName, "COMPLETED", "IN_PROGRESS", "CANCELLED"}

func (t TaskStatus) String() string { return enumName(taskStatusNames, int(t)) }

// ParseTaskStatus maps a name to a TaskStatus. DONE is accepted as COMPLETED.
func ParseTaskStatus(s string) TaskStatus {
	switch normalizeEnum(s) {
	case "DONE":
		return TaskCompleted
	case "CANCELED":
		return TaskCancelled
	}
	return TaskStatus(enumIndex(taskStatusNames, s))
}

func (t TaskStatus) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *TaskStatus) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum("task status", b, ParseTaskStatus)
	*t = v
	return err
}

// DeploymentStatus of a training run.
type DeploymentStatus uint8

const (
	DeploymentUnknown DeploymentStatus = iota
	DeploymentDeployed
	DeploymentFailed
	DeploymentSkipped
	DeploymentTesting
)

var deploymentNames = []string{unknownName, "DEPLOYED", "FAILED", "SKIPPED", "TESTING"}

func (d DeploymentStatus) String() string { return enumName(deploymentNames, int(d)) }

// ParseDeploymentStatus maps a name to a DeploymentStatus.
func ParseDeploymentStatus(s string) DeploymentStatus {
	return DeploymentStatus(enumIndex(deploymentNames, s))
}

func (d DeploymentStatus) MarshalText() ([]byte, error) { return []byte(d.String()), nil }

func (d *DeploymentStatus) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum("deployment status", b, ParseDeploymentStatus)
	*d = v
	return err
}

// PredictionType of a served prediction.
type PredictionType uint8

const (
	PredictionTypeUnknown PredictionType = iota
	PredictionTaskAssignment
	PredictionPerformance
	PredictionRecommendation
)

var predictionTypeNames = []string{unknownName, "TASK_ASSIGNMENT", "PERFORMANCE_PREDICTION", "RECOMMENDATION"}

func (p PredictionType) String() string { return enumName(predictionTypeNames, int(p)) }

// ParsePredictionType maps a name to a PredictionType.
func ParsePredictionType(s string) PredictionType {
	return PredictionType(enumIndex(predictionTypeNames, s))
}

func (p PredictionType) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *PredictionType) UnmarshalText(b []byte) error {
	v, err := unmarshalEnum("prediction type", b, ParsePredictionType)
	*p = v
	return err
}
