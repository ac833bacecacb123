package labware

import "fmt"

// MaxSampleColumns is the number of columns on a 96-well plate. A
// multichannel head addresses a whole column through its first-row well.
const MaxSampleColumns = 12

// ValidateColumns checks a sample column count before anything moves.
func ValidateColumns(columns int) error {
	if columns < 1 || columns > MaxSampleColumns {
		return fmt.Errorf("%w: %d (want 1-%d)", ErrInvalidColumnCount, columns, MaxSampleColumns)
	}
	return nil
}

// SampleSet returns the first-row wells A1..A<columns> of plate.
func SampleSet(plate *Labware, columns int) ([]Well, error) {
	if err := ValidateColumns(columns); err != nil {
		return nil, err
	}
	if columns > plate.Def.Columns {
		return nil, fmt.Errorf("%w: %d columns on %s", ErrInvalidColumnCount, columns, plate.Label)
	}
	out := make([]Well, 0, columns)
	for col := 1; col <= columns; col++ {
		w, err := plate.Column(col)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}
