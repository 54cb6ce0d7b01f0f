package parse

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"laundry-branch-backend/internal/model"
)

var (
	numberRe = regexp.MustCompile(`(\d+)\s*$`)
	spaceRe  = regexp.MustCompile(`\s+`)
)

// prefixes maps the leading word of a label to its machine type.
var prefixes = map[string]model.MachineType{
	"w":      model.MachineTypeWasher,
	"wash":   model.MachineTypeWasher,
	"washer": model.MachineTypeWasher,
	"d":      model.MachineTypeDryer,
	"dry":    model.MachineTypeDryer,
	"dryer":  model.MachineTypeDryer,
}

// ParsedLabel holds the structured data parsed from a machine's display label.
type ParsedLabel struct {
	Type   model.MachineType
	Number int
	Label  string
}

// ParseMachineLabel extracts the machine type and number from labels such as
// "W-3", "w3", "Washer 2", "Dryer #4" or "DRY-12".
func ParseMachineLabel(raw string) (ParsedLabel, error) {
	s := strings.TrimSpace(raw)
	s = strings.ReplaceAll(s, "#", " ")
	s = strings.ReplaceAll(s, "-", " ")
	s = strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
	if s == "" {
		return ParsedLabel{}, fmt.Errorf("empty machine label")
	}

	loc := numberRe.FindStringSubmatchIndex(s)
	if loc == nil {
		return ParsedLabel{}, fmt.Errorf("unable to parse machine number from label: %q", raw)
	}
	number, err := strconv.Atoi(s[loc[2]:loc[3]])
	if err != nil || number <= 0 {
		return ParsedLabel{}, fmt.Errorf("invalid machine number in label: %q", raw)
	}

	prefix := strings.ToLower(strings.TrimSpace(s[:loc[0]]))
	machineType, ok := prefixes[prefix]
	if !ok {
		return ParsedLabel{}, fmt.Errorf("unknown machine type %q in label: %q", prefix, raw)
	}

	return ParsedLabel{Type: machineType, Number: number, Label: strings.TrimSpace(raw)}, nil
}
