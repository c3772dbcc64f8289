package logger

import (
	"strings"
	"sync"
	"testing"
)

func TestProgressBarRender(t *testing.T) {
	tests := []struct {
		name     string
		done     int
		total    int
		width    int
		expected string
	}{
		{"empty progress", 0, 10, 10, "[          ] 0/10 (0%)"},
		{"half progress", 5, 10, 10, "[=====     ] 5/10 (50%)"},
		{"full progress", 10, 10, 10, "[==========] 10/10 (100%)"},
		{"overflow clamps", 12, 10, 10, "[==========] 12/10 (100%)"},
		{"zero total", 0, 0, 4, "[    ] 0/0 (0%)"},
		{"default width", 1, 2, 0, "[=====     ] 1/2 (50%)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pb := NewProgressBar(tt.total, tt.width, false)
			pb.Update(tt.done)
			if got := pb.Render(); got != tt.expected {
				t.Errorf("Render() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestProgressBarConcurrentFinish(t *testing.T) {
	pb := NewProgressBar(100, 10, false)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pb.Finish(i%10 == 0)
		}(i)
	}
	wg.Wait()

	done, failed, total := pb.Counts()
	if done != 100 || failed != 10 || total != 100 {
		t.Errorf("Counts() = %d, %d, %d, want 100, 10, 100", done, failed, total)
	}
	if pb.Percentage() != 100 {
		t.Errorf("Percentage() = %d, want 100", pb.Percentage())
	}
	if !strings.Contains(pb.Render(), "100/100") {
		t.Errorf("Render() = %q", pb.Render())
	}
}
