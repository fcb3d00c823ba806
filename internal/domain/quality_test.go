package domain

import (
	"testing"
	"time"
)

func TestClassifyQuality_Boundaries(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    Quality
	}{
		{0, QualityGood},
		{4999 * time.Millisecond, QualityGood},
		{5 * time.Second, QualityFair},
		{14999 * time.Millisecond, QualityFair},
		{15 * time.Second, QualityPoor},
		{20 * time.Second, QualityPoor},
		{time.Hour, QualityPoor},
	}

	for _, tt := range tests {
		if got := ClassifyQuality(tt.elapsed); got != tt.want {
			t.Errorf("ClassifyQuality(%v) = %s, want %s", tt.elapsed, got, tt.want)
		}
	}
}

func TestQualityThresholds_Custom(t *testing.T) {
	th := QualityThresholds{Good: time.Second, Fair: 2 * time.Second}
	if got := th.Classify(1500 * time.Millisecond); got != QualityFair {
		t.Errorf("Classify(1.5s) = %s, want fair", got)
	}
}
