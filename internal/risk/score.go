// Package risk scores proposed trades.
package risk

import "github.com/M3R1ttt/nof1-tracker/internal/types"

const (
	baseScore    = 20
	perLeverage  = 10
	maxScore     = 100
	warnScore    = 80
	warnLeverage = 10
)

// Warning messages attached to risky trades.
const (
	WarnHighScore    = "High risk score"
	WarnHighLeverage = "High leverage detected"
)

// Score assigns a bounded risk score to a trade from its leverage:
// min(20 + leverage*10, 100). The assessment never rejects a trade on
// score alone; Valid is always true and callers wanting enforcement must
// apply their own threshold.
func Score(leverage int) types.RiskAssessment {
	score := baseScore + leverage*perLeverage
	if score > maxScore {
		score = maxScore
	}

	var warnings []string
	if score >= warnScore {
		warnings = append(warnings, WarnHighScore)
	}
	if leverage >= warnLeverage {
		warnings = append(warnings, WarnHighLeverage)
	}

	return types.RiskAssessment{
		Score:    score,
		Warnings: warnings,
		Valid:    true,
	}
}
