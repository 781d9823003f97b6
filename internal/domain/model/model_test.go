package model_test

import (
	"errors"
	"testing"

	"github.com/goccy/go-json"
	"github.com/okian/assignml/internal/domain/model"
	"github.com/smartystreets/goconvey/convey"
)

func TestEnums(t *testing.T) {
	convey.Convey("Given closed enumerations", t, func() {
		convey.Convey("Names parse case and separator insensitively", func() {
			convey.So(model.ParsePriority(" high "), convey.ShouldEqual, model.PriorityHigh)
			convey.So(model.ParsePriority("urgent"), convey.ShouldEqual, model.PriorityCritical)
			convey.So(model.ParseSeniority("mid-level"), convey.ShouldEqual, model.SeniorityMidLevel)
			convey.So(model.ParseDifficulty("Expert"), convey.ShouldEqual, model.DifficultyExpert)
			convey.So(model.ParseAssignmentMethod("ml_recommended"), convey.ShouldEqual, model.AssignmentRecommended)
			convey.So(model.ParseTaskStatus("canceled"), convey.ShouldEqual, model.TaskCancelled)
		})

		convey.Convey("Unrecognised names map to the unknown variant", func() {
			convey.So(model.ParsePriority("whenever"), convey.ShouldEqual, model.PriorityUnknown)
			convey.So(model.PriorityUnknown.String(), convey.ShouldEqual, "UNKNOWN")
			convey.So(model.Priority(99).String(), convey.ShouldEqual, "UNKNOWN")
		})

		convey.Convey("Proficiency accepts ordinals and names", func() {
			convey.So(model.ParseProficiency("4"), convey.ShouldEqual, model.ProficiencyExpert)
			convey.So(model.ParseProficiency("master"), convey.ShouldEqual, model.ProficiencyMaster)
			convey.So(model.ParseProficiency("9"), convey.ShouldEqual, model.ProficiencyUnknown)
		})

		convey.Convey("Weights fall back to the middle of the scale", func() {
			convey.So(model.PriorityUnknown.Weight(), convey.ShouldEqual, 2)
			convey.So(model.DifficultyExpert.Weight(), convey.ShouldEqual, 3)
			convey.So(model.SeniorityUnknown.Level(), convey.ShouldEqual, 2)
			convey.So(model.PriorityCritical.RequiresExternalPass(), convey.ShouldBeTrue)
			convey.So(model.PriorityMedium.RequiresExternalPass(), convey.ShouldBeFalse)
		})
	})
}

func TestTaskProfileJSON(t *testing.T) {
	convey.Convey("Given a task payload", t, func() {
		convey.Convey("Mixed numeric and named proficiencies decode", func() {
			var task model.TaskProfile
			err := json.Unmarshal([]byte(`{"id":"t1","priority":"HIGH","difficulty":"hard",
				"requiredSkills":{"Java":4,"SQL":"INTERMEDIATE"}}`), &task)
			convey.So(err, convey.ShouldBeNil)
			convey.So(task.Priority, convey.ShouldEqual, model.PriorityHigh)
			convey.So(task.RequiredSkills["Java"], convey.ShouldEqual, model.ProficiencyExpert)
			convey.So(task.RequiredSkills["SQL"], convey.ShouldEqual, model.ProficiencyIntermediate)

			out, err := json.Marshal(task)
			convey.So(err, convey.ShouldBeNil)
			convey.So(string(out), convey.ShouldContainSubstring, `"priority":"HIGH"`)
			convey.So(string(out), convey.ShouldContainSubstring, `"Java":4`)
		})

		convey.Convey("An unknown priority is rejected at decode time", func() {
			var task model.TaskProfile
			err := json.Unmarshal([]byte(`{"id":"t1","priority":"SOMEDAY"}`), &task)
			convey.So(err, convey.ShouldNotBeNil)
		})

		convey.Convey("The UNKNOWN literal round-trips", func() {
			var task model.TaskProfile
			err := json.Unmarshal([]byte(`{"id":"t1","priority":"UNKNOWN"}`), &task)
			convey.So(err, convey.ShouldBeNil)
			convey.So(task.Priority, convey.ShouldEqual, model.PriorityUnknown)
		})
	})
}

func TestEventRecordCheck(t *testing.T) {
	convey.Convey("Given event records", t, func() {
		convey.Convey("Completion without a task id is invalid", func() {
			rec := model.EventRecord{EventID: "e1", EventType: model.EventTaskCompletion, UserID: "u1"}
			convey.So(errors.Is(rec.Check(), model.ErrInvalidEvent), convey.ShouldBeTrue)
		})

		convey.Convey("Profile updates need no task", func() {
			rec := model.EventRecord{EventID: "e2", EventType: model.EventUserProfileUpdate, UserID: "u1"}
			convey.So(rec.Check(), convey.ShouldBeNil)
		})

		convey.Convey("Unknown types are invalid", func() {
			rec := model.EventRecord{EventID: "e3", UserID: "u1"}
			convey.So(rec.Check(), convey.ShouldNotBeNil)
		})
	})
}

func TestTrainingDataIncomplete(t *testing.T) {
	convey.Convey("Given a training row with only the label", t, func() {
		row := model.TrainingData{PerformanceScore: 0.8}
		convey.So(row.Incomplete(), convey.ShouldEqual, model.IncompleteFields)

		row.ActualHours = model.Float(3)
		row.Task.RequiredSkills = model.Skills{"go": model.ProficiencyAdvanced}
		convey.So(row.Incomplete(), convey.ShouldEqual, 3)
	})
}
