package docking

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/harrison/dockpipe/internal/models"
)

const vinaResultPrefix = "REMARK VINA RESULT:"

// ExtractScores returns the binding affinities of the poses in a Vina
// output file, in file order.
func ExtractScores(outputPath string) ([]float64, error) {
	data, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, models.NewDockError(models.KindEngineOutput, "cannot read docking output", err)
	}
	return parseScores(data)
}

func parseScores(data []byte) ([]float64, error) {
	var scores []float64
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if !strings.HasPrefix(line, vinaResultPrefix) {
			continue
		}
		fields := strings.Fields(strings.TrimPrefix(line, vinaResultPrefix))
		if len(fields) == 0 {
			return nil, models.Errorf(models.KindEngineOutput, "line %d: VINA RESULT without a score", lineNo)
		}
		score, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return nil, models.NewDockError(models.KindEngineOutput, fmt.Sprintf("line %d: bad score %q", lineNo, fields[0]), err)
		}
		scores = append(scores, score)
	}
	if err := sc.Err(); err != nil {
		return nil, models.NewDockError(models.KindEngineOutput, "cannot read docking output", err)
	}
	if len(scores) == 0 {
		return nil, models.Errorf(models.KindEngineOutput, "no VINA RESULT records in docking output")
	}
	return scores, nil
}

// rankingWarning describes the first pose that scores better than the one
// before it, or returns "". Vina ranks by total energy, so the reported
// affinities may legitimately come out of order; file order is kept.
func rankingWarning(scores []float64) string {
	for i := 1; i < len(scores); i++ {
		if scores[i] < scores[i-1] {
			return fmt.Sprintf("pose %d scores %.3f, better than pose %d (%.3f); keeping the engine's order",
				i+1, scores[i], i, scores[i-1])
		}
	}
	return ""
}
