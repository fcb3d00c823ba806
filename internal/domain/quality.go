package domain

import "time"

// Quality is a discrete freshness level.
type Quality string

const (
	QualityGood Quality = "good"
	QualityFair Quality = "fair"
	QualityPoor Quality = "poor"
)

// QualityThresholds bound the good and fair levels. Elapsed time strictly
// below Good is good, strictly below Fair is fair, anything else is poor.
type QualityThresholds struct {
	Good time.Duration
	Fair time.Duration
}

// DefaultQualityThresholds are 5s and 15s.
var DefaultQualityThresholds = QualityThresholds{Good: 5 * time.Second, Fair: 15 * time.Second}

// Classify maps elapsed time since the last update to a Quality.
func (t QualityThresholds) Classify(elapsed time.Duration) Quality {
	switch {
	case elapsed < t.Good:
		return QualityGood
	case elapsed < t.Fair:
		return QualityFair
	default:
		return QualityPoor
	}
}

// ClassifyQuality classifies with DefaultQualityThresholds.
func ClassifyQuality(elapsed time.Duration) Quality {
	return DefaultQualityThresholds.Classify(elapsed)
}
