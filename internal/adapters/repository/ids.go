package repository

import (
	"github.com/google/uuid"

	"github.com/okian/assignml/internal/domain/model"
)

// ensureSourceID gives rows without an originating event (synthetic or
// imported) a unique key so the source_event_id constraint holds.
func ensureSourceID(row *model.TrainingData) {
	if row.SourceEventID == "" {
		row.SourceEventID = row.DataSource + ":" + uuid.NewString()
	}
}
