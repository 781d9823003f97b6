package model

import "time"

// CandidateFeatures is the normalised feature set of one (task, candidate) pair.
// It is built per request and never persisted as-is.
type CandidateFeatures struct {
	TaskID string `json:"taskId"`
	UserID string `json:"userId"`

	TaskType        string             `json:"taskType,omitempty"`
	TaskDepartment  string             `json:"taskDepartment,omitempty"`
	Department      string             `json:"department,omitempty"`
	RequiredSkills  map[string]float64 `json:"requiredSkills"`
	CandidateSkills map[string]float64 `json:"candidateSkills"`
	MatchedSkills   []string           `json:"matchedSkills,omitempty"`
	MissingSkills   []string           `json:"missingSkills,omitempty"`
	Certifications  []string           `json:"certifications,omitempty"`

	BaseSkillMatchScore    float64 `json:"baseSkillMatchScore"`
	RelatedSkillsScore     float64 `json:"relatedSkillsScore"`
	LearningPotentialScore float64 `json:"learningPotentialScore"`
	DomainExperienceBonus  float64 `json:"domainExperienceBonus"`
	TechStackCohesionBonus float64 `json:"techStackCohesionBonus"`
	CertificationBonus     float64 `json:"certificationBonus"`

	Seniority          Seniority          `json:"seniority"`
	YearsExperience    float64            `json:"yearsExperience"`
	Utilization        float64            `json:"utilization"`
	AvailableCapacity  float64            `json:"availableCapacity"`
	AvailabilityStatus AvailabilityStatus `json:"availabilityStatus"`
	AvailabilityScore  float64            `json:"availabilityScore"`
	ActiveTasks        int                `json:"activeTasks"`
	AvgActualHours     float64            `json:"avgActualHours"`
	PerformanceScore   float64            `json:"performanceScore"`
	TaskSuccessRate    float64            `json:"taskSuccessRate"`
	CollaborationScore float64            `json:"collaborationScore"`

	Priority       Priority   `json:"priority"`
	Difficulty     Difficulty `json:"difficulty"`
	EstimatedHours float64    `json:"estimatedHours"`
}

// CriteriaScores are the individual MCDA criteria values, each in [0,1].
// Workload is reported as a benefit (1 means idle).
type CriteriaScores struct {
	SkillMatch    float64 `json:"skillMatch"`
	Workload      float64 `json:"workload"`
	Performance   float64 `json:"performance"`
	Availability  float64 `json:"availability"`
	Collaboration float64 `json:"collaboration"`
}

// AssignmentRecommendation is one ranked entry returned to the caller.
type AssignmentRecommendation struct {
	TaskID string `json:"taskId"`
	UserID string `json:"userId"`

	ContentBasedScore           float64  `json:"contentBasedScore"`
	CollaborativeFilteringScore float64  `json:"collaborativeFilteringScore"`
	TopsScore                   float64  `json:"topsScore"`
	AHPScore                    float64  `json:"ahpScore"`
	RFPredictionScore           float64  `json:"rfPredictionScore"`
	RFConfidence                float64  `json:"rfConfidence"`
	HybridScore                 float64  `json:"hybridScore"`
	ExternalScore               *float64 `json:"externalScore,omitempty"`
	OverallScore                float64  `json:"overallScore"`

	Criteria           CriteriaScores `json:"criteria"`
	CurrentUtilization float64        `json:"currentUtilization"`
	Rank               int            `json:"rank"`
	Reason             string         `json:"recommendationReason"`
	ModelVersion       string         `json:"modelVersion,omitempty"`
}

// PredictionLog is written for every served recommendation and completed by feedback.
type PredictionLog struct {
	ID                 string         `json:"id"`
	TaskID             string         `json:"taskId"`
	UserID             string         `json:"userId"`
	ModelVersion       string         `json:"modelVersion,omitempty"`
	PredictionType     PredictionType `json:"predictionType"`
	ConfidenceScore    float64        `json:"confidenceScore"`
	ContentScore       float64        `json:"contentScore"`
	CollaborativeScore float64        `json:"collaborativeScore"`
	MCDAScore          float64        `json:"mcdaScore"`
	RFPredictionScore  float64        `json:"rfPredictionScore"`
	RFConfidence       float64        `json:"rfConfidence"`
	PredictedSuccess   bool           `json:"predictedSuccess"`
	ActualSuccess      *bool          `json:"actualSuccess,omitempty"`
	PredictionAccuracy *float64       `json:"predictionAccuracy,omitempty"`
	RecommendationRank int            `json:"recommendationRank"`
	WasSelected        bool           `json:"wasSelected"`
	PredictionDate     time.Time      `json:"predictionDate"`
	FeedbackDate       *time.Time     `json:"feedbackDate,omitempty"`
}

// HasFeedback reports whether the outcome was already recorded.
func (p *PredictionLog) HasFeedback() bool { return p.ActualSuccess != nil }

// Feedback is the observed outcome of a served recommendation.
type Feedback struct {
	TaskID            string   `json:"taskId" validate:"required"`
	UserID            string   `json:"userId" validate:"required"`
	ActualSuccess     bool     `json:"actualSuccess"`
	ActualPerformance *float64 `json:"actualPerformance,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// ExternalScore is one candidate score returned by the external recommender.
type ExternalScore struct {
	UserID string  `json:"userId"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}
