package judging

// memoryCeilingBytes is the sandbox memory limit the memory ladder is scored
// against.
const memoryCeilingBytes = 512 << 20

// efficiencyScore combines the time and memory ladders 70/30, over passed
// tests only. Zero passed tests scores 0.
func efficiencyScore(report *CorrectnessReport, optimalTimeMs float64) float64 {
	var (
		passed    int
		totalTime int64
		totalMem  int64
	)
	for _, r := range report.Results {
		if r.Passed {
			passed++
			totalTime += r.ExecutionTimeMs
			totalMem += r.MemoryBytes
		}
	}
	if passed == 0 {
		return 0
	}

	avgTimeMs := float64(totalTime) / float64(passed)
	avgMemBytes := float64(totalMem) / float64(passed)

	timeScore := timeLadder(avgTimeMs, optimalTimeMs)
	memScore := memoryLadder(avgMemBytes)
	return 0.7*timeScore + 0.3*memScore
}

// timeLadder scores mean execution time: against the challenge's optimal time
// when known, else against fixed absolute thresholds.
func timeLadder(avgMs, optimalMs float64) float64 {
	if optimalMs > 0 {
		ratio := avgMs / optimalMs
		switch {
		case ratio <= 1.0:
			return 10
		case ratio <= 1.5:
			return 9
		case ratio <= 2.0:
			return 8
		case ratio <= 3.0:
			return 6
		case ratio <= 5.0:
			return 4
		case ratio <= 10.0:
			return 2
		default:
			return 1
		}
	}
	switch {
	case avgMs < 100:
		return 10
	case avgMs < 250:
		return 9
	case avgMs < 500:
		return 8
	case avgMs < 1000:
		return 6
	case avgMs < 1500:
		return 4
	case avgMs < 2000:
		return 2
	default:
		return 1
	}
}

// memoryLadder scores mean memory usage as a fraction of the sandbox ceiling.
func memoryLadder(avgBytes float64) float64 {
	frac := avgBytes / float64(memoryCeilingBytes)
	switch {
	case frac <= 0.05:
		return 10
	case frac <= 0.10:
		return 9
	case frac <= 0.20:
		return 8
	case frac <= 0.35:
		return 6
	case frac <= 0.50:
		return 4
	case frac <= 0.75:
		return 2
	default:
		return 1
	}
}
