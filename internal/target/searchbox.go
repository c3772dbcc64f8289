package target

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/harrison/dockpipe/internal/models"
)

var boxKeys = []string{"center_x", "center_y", "center_z", "size_x", "size_y", "size_z"}

// ParseSearchBox reads a Vina-style config of "key = value" lines. The six
// centre and size keys are required; anything else lands in Extra. Blank
// lines and '#' comments are skipped.
func ParseSearchBox(r io.Reader) (models.SearchBox, error) {
	var box models.SearchBox
	values := make(map[string]float64, len(boxKeys))

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return box, fmt.Errorf("line %d: expected key = value, got %q", lineNo, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if isBoxKey(key) {
			if _, dup := values[key]; dup {
				return box, fmt.Errorf("line %d: %s given twice", lineNo, key)
			}
			v, err := strconv.ParseFloat(value, 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return box, fmt.Errorf("line %d: %s is not a number: %q", lineNo, key, value)
			}
			values[key] = v
			continue
		}
		if box.Extra == nil {
			box.Extra = make(map[string]string)
		}
		box.Extra[key] = value
	}
	if err := sc.Err(); err != nil {
		return box, fmt.Errorf("read search box: %w", err)
	}

	var missing []string
	for _, k := range boxKeys {
		if _, ok := values[k]; !ok {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return box, fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}

	box.CenterX, box.CenterY, box.CenterZ = values["center_x"], values["center_y"], values["center_z"]
	box.SizeX, box.SizeY, box.SizeZ = values["size_x"], values["size_y"], values["size_z"]
	if box.SizeX <= 0 || box.SizeY <= 0 || box.SizeZ <= 0 {
		return box, fmt.Errorf("box sizes must be positive, got %.3f x %.3f x %.3f", box.SizeX, box.SizeY, box.SizeZ)
	}
	return box, nil
}

func isBoxKey(key string) bool {
	for _, k := range boxKeys {
		if k == key {
			return true
		}
	}
	return false
}

// FormatSearchBox renders a box in the config format ParseSearchBox reads.
func FormatSearchBox(box models.SearchBox) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "center_x = %g\ncenter_y = %g\ncenter_z = %g\n", box.CenterX, box.CenterY, box.CenterZ)
	fmt.Fprintf(&sb, "size_x = %g\nsize_y = %g\nsize_z = %g\n", box.SizeX, box.SizeY, box.SizeZ)
	return sb.String()
}
