package replicator

import (
	"fmt"

	"mlcopy/internal/models"
)

// Strategy names the single remote mutation chosen for a destination.
type Strategy string

const (
	// StrategyCreate posts a fresh compatibility table onto a listing
	// that has none.
	StrategyCreate Strategy = "create"
	// StrategyMerge adds the source table on top of existing entries.
	StrategyMerge Strategy = "merge"
	// StrategyReplace removes the existing entries and installs the
	// source table in one combined call.
	StrategyReplace Strategy = "replace"
	// StrategyUserProduct routes through the aggregate-product
	// copy-paste resource.
	StrategyUserProduct Strategy = "user_product"
)

// SelectStrategy maps a destination snapshot and the requested mode to
// exactly one mutation. Aggregate listings always take the copy-paste
// route; the mode only matters for plain listings that already have data.
func SelectStrategy(state *DestinationState, mode string) (Strategy, error) {
	if state.IsUserProduct {
		return StrategyUserProduct, nil
	}
	if !state.HasCompatibilities {
		return StrategyCreate, nil
	}
	switch mode {
	case models.ModeAdd:
		return StrategyMerge, nil
	case models.ModeReplace:
		return StrategyReplace, nil
	default:
		return "", fmt.Errorf("unknown copy mode %q", mode)
	}
}
