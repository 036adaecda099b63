package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func outcome(status string) TargetOutcome {
	return TargetOutcome{Status: status}
}

func TestAggregateStatus(t *testing.T) {
	tests := []struct {
		name     string
		targets  []TargetOutcome
		expected string
	}{
		{"no targets", nil, JobInProgress},
		{"all pending", []TargetOutcome{outcome(TargetPending)}, JobInProgress},
		{"one running", []TargetOutcome{outcome(TargetSuccess), outcome(TargetInProgress)}, JobInProgress},
		{"all success", []TargetOutcome{outcome(TargetSuccess), outcome(TargetSuccess)}, JobSuccess},
		{"all error", []TargetOutcome{outcome(TargetError), outcome(TargetError)}, JobError},
		{"mixed", []TargetOutcome{outcome(TargetSuccess), outcome(TargetError)}, JobPartial},
		{"paused counts as settled", []TargetOutcome{outcome(TargetSuccess), outcome(TargetNeedsMoreInfo)}, JobPartial},
		{"all paused", []TargetOutcome{outcome(TargetNeedsMoreInfo)}, JobPartial},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, AggregateStatus(tt.targets))
		})
	}
}

func TestTargetOutcomeSettled(t *testing.T) {
	assert.True(t, outcome(TargetSuccess).Settled())
	assert.True(t, outcome(TargetError).Settled())
	assert.True(t, outcome(TargetNeedsMoreInfo).Settled())
	assert.False(t, outcome(TargetPending).Settled())
	assert.False(t, outcome(TargetInProgress).Settled())

	assert.True(t, outcome(TargetSuccess).Terminal())
	assert.False(t, outcome(TargetNeedsMoreInfo).Terminal())
}

func TestPackageDimensionsEmpty(t *testing.T) {
	assert.True(t, PackageDimensions{}.Empty())
	assert.False(t, PackageDimensions{HeightCM: 10}.Empty())
	assert.False(t, PackageDimensions{WeightG: 500}.Empty())
}
