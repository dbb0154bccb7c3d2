package numduel

import "time"

// LiveRemaining derives a player's remaining seconds from the persisted
// baseline. Only the active player's clock runs, and only while a turn has
// started and the game has not ended. Never negative.
func LiveRemaining(baseline int, turnStartedAt *time.Time, isActive, gameEnded bool, now time.Time) int {
	if gameEnded || !isActive || turnStartedAt == nil {
		return baseline
	}
	left := baseline - elapsedSeconds(*turnStartedAt, now)
	if left < 0 {
		return 0
	}
	return left
}

// SettleTurn computes the baseline to persist for the player who just moved:
// the live remaining time plus the per-move increment.
func SettleTurn(baseline int, turnStartedAt, now time.Time, bonusSeconds int) int {
	left := baseline - elapsedSeconds(turnStartedAt, now)
	if left < 0 {
		left = 0
	}
	return left + bonusSeconds
}

// elapsedSeconds floors to whole seconds. A start in the future, from clock
// skew between writers, counts as zero.
func elapsedSeconds(start, now time.Time) int {
	d := now.Sub(start)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}
