package logger

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fatih/color"
)

// ProgressBar tracks finished and failed requests of a batch and renders
// them as an ASCII bar.
type ProgressBar struct {
	done        int
	failed      int
	total       int
	width       int
	enableColor bool
	mu          sync.RWMutex
}

// NewProgressBar creates a progress bar for total requests.
func NewProgressBar(total, width int, enableColor bool) *ProgressBar {
	if width < 1 {
		width = 10
	}
	return &ProgressBar{total: total, width: width, enableColor: enableColor}
}

// Update sets the number of finished requests.
func (pb *ProgressBar) Update(done int) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.done = done
}

// Finish records one finished request.
func (pb *ProgressBar) Finish(failed bool) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.done++
	if failed {
		pb.failed++
	}
}

// Counts returns finished, failed and total requests.
func (pb *ProgressBar) Counts() (done, failed, total int) {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	return pb.done, pb.failed, pb.total
}

// Percentage returns the progress percentage (0-100).
func (pb *ProgressBar) Percentage() int {
	pb.mu.RLock()
	defer pb.mu.RUnlock()
	return pb.percentage()
}

func (pb *ProgressBar) percentage() int {
	if pb.total <= 0 {
		return 0
	}
	perc := (pb.done * 100) / pb.total
	if perc > 100 {
		perc = 100
	}
	if perc < 0 {
		perc = 0
	}
	return perc
}

// Render generates "[=====     ] 5/10 (50%)".
func (pb *ProgressBar) Render() string {
	pb.mu.RLock()
	defer pb.mu.RUnlock()

	perc := pb.percentage()
	filled := (perc * pb.width) / 100

	bar := "[" + strings.Repeat("=", filled) + strings.Repeat(" ", pb.width-filled) + "]"
	result := fmt.Sprintf("%s %d/%d (%d%%)", bar, pb.done, pb.total, perc)

	if !pb.enableColor {
		return result
	}
	if perc < 100 {
		return color.New(color.FgCyan).Sprint(result)
	}
	return color.New(color.FgGreen).Sprint(result)
}
