package gameserver

import (
	mathrand "math/rand/v2"

	"github.com/udisondev/seabattle/internal/model"
)

const maxShotDraws = 1000

// randomShot picks a cell the shooter has not fired at yet, by rejection
// sampling on its tracking grid. Falls back to (0, 0) after 1000 draws,
// which only happens on a board the game should already have ended on.
func randomShot(shooter *model.Player) (int, int) {
	size := shooter.GridSize()
	for range maxShotDraws {
		x := mathrand.IntN(size)
		y := mathrand.IntN(size)
		if shooter.Tracking[y][x] == model.CellWater {
			return x, y
		}
	}
	return 0, 0
}
