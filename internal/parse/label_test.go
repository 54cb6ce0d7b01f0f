package parse

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"laundry-branch-backend/internal/model"
)

func TestParseMachineLabel(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		expected  ParsedLabel
		expectErr bool
	}{
		{
			name:     "Short washer label",
			raw:      "W-3",
			expected: ParsedLabel{Type: model.MachineTypeWasher, Number: 3, Label: "W-3"},
		},
		{
			name:     "Lowercase glued label",
			raw:      "w12",
			expected: ParsedLabel{Type: model.MachineTypeWasher, Number: 12, Label: "w12"},
		},
		{
			name:     "Full word with space",
			raw:      "Washer 2",
			expected: ParsedLabel{Type: model.MachineTypeWasher, Number: 2, Label: "Washer 2"},
		},
		{
			name:     "Dryer with hash",
			raw:      " Dryer #4 ",
			expected: ParsedLabel{Type: model.MachineTypeDryer, Number: 4, Label: "Dryer #4"},
		},
		{
			name:     "Uppercase abbreviation",
			raw:      "DRY-12",
			expected: ParsedLabel{Type: model.MachineTypeDryer, Number: 12, Label: "DRY-12"},
		},
		{
			name:      "Unknown type",
			raw:       "Iron-1",
			expectErr: true,
		},
		{
			name:      "Missing number",
			raw:       "Washer",
			expectErr: true,
		},
		{
			name:      "Zero number",
			raw:       "D-0",
			expectErr: true,
		},
		{
			name:      "Empty",
			raw:       "  ",
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			actual, err := ParseMachineLabel(tc.raw)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}
