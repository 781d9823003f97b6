package testevents

import (
	"context"
	"fmt"
	"strings"

	"github.com/okian/assignml/internal/domain/trainer"
	"github.com/okian/assignml/pkg/logger"
)

// verifyDataQuality fetches the quality report of the configured window.
// An invalid report is logged, not returned as an error: a small load run is
// expected to fall short of the row minimum.
func verifyDataQuality(ctx context.Context, client *HTTPClient, cfg *Config) (trainer.Report, error) {
	var report trainer.Report
	url := fmt.Sprintf("%s/v1/training/validate?months=%d", cfg.BaseURL, cfg.Months)
	if err := client.getJSON(ctx, url, &report); err != nil {
		return report, err
	}

	fields := []logger.Field{
		logger.Int("rows", report.Rows),
		logger.Float64("positiveRatio", report.PositiveRatio),
		logger.Float64("nullRatio", report.NullRatio),
		logger.Bool("valid", report.Valid),
	}
	if report.Valid {
		logger.Get().Info(ctx, "training data is ready", fields...)
	} else {
		fields = append(fields, logger.String("issues", strings.Join(report.Issues, "; ")))
		logger.Get().Warn(ctx, "training data is not ready", fields...)
	}
	return report, nil
}
