package judging

import (
	"fmt"
	"strings"
)

// feedback builds the per-player feedback string from the match outcome, the
// pass ratio, and the sub-score bands.
func feedback(score *PlayerScore, winnerID, userID string) string {
	var b strings.Builder

	switch {
	case winnerID == "":
		b.WriteString("The match ended in a tie.")
	case winnerID == userID:
		b.WriteString("You won the match!")
	default:
		b.WriteString("You lost this one, but every match sharpens your game.")
	}

	passed, total := score.Correctness.PassedTests, score.Correctness.TotalTests
	switch {
	case total == 0:
	case passed == total:
		b.WriteString(fmt.Sprintf(" All %d tests passed.", total))
	case passed == 0:
		b.WriteString(fmt.Sprintf(" None of the %d tests passed; re-check the expected output format.", total))
	default:
		b.WriteString(fmt.Sprintf(" %d of %d tests passed.", passed, total))
	}

	if passed > 0 {
		switch {
		case score.Efficiency >= 8:
			b.WriteString(" Your solution ran fast and lean.")
		case score.Efficiency >= 5:
			b.WriteString(" Performance was solid; there is still room to tighten the hot path.")
		default:
			b.WriteString(" Performance dragged your score down; look for a lower-complexity approach.")
		}
	}

	switch {
	case score.Quality.Overall >= 8:
		b.WriteString(" Clean, well-structured code.")
	case score.Quality.Overall >= 5:
		b.WriteString(" Code quality was decent; naming and structure could be clearer.")
	default:
		b.WriteString(" Work on code structure: functions, guards, and comments all help.")
	}

	if passed > 0 && score.Creativity >= 7 {
		b.WriteString(" Nice use of varied language constructs.")
	}

	return b.String()
}
