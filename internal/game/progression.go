package game

// XPToNext is the experience needed to advance from level to level+1.
func XPToNext(level int) int64 {
	if level < 1 {
		level = 1
	}
	return int64(level) * 100
}

// applyXP adds gain to a player at level with xp carried toward the next
// level and returns the new level and carried xp.
func applyXP(level int, xp, gain int64) (int, int64) {
	if level < 1 {
		level = 1
	}
	xp += gain
	for xp >= XPToNext(level) {
		xp -= XPToNext(level)
		level++
	}
	return level, xp
}
