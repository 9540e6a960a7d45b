package heading

import (
	"encoding/json"
	"fmt"
)

// Sector is one of the eight compass sectors.
type Sector int

const (
	North Sector = iota
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest
)

// Primary reports whether s is one of N, E, S, W. Only primary sectors
// trigger feedback.
func (s Sector) Primary() bool {
	return s == North || s == East || s == South || s == West
}

func (s Sector) String() string {
	if s < North || s > NorthWest {
		return fmt.Sprintf("sector(%d)", int(s))
	}
	return labelTables[LabelsEnglish][s]
}

func (s Sector) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Sector) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for i, l := range labelTables[LabelsEnglish] {
		if l == name {
			*s = Sector(i)
			return nil
		}
	}
	return fmt.Errorf("heading: unknown sector %q", name)
}

// LabelSet selects the text used for sector labels.
type LabelSet string

const (
	LabelsEnglish LabelSet = "en"
	LabelsSpanish LabelSet = "es"
)

var labelTables = map[LabelSet][8]string{
	LabelsEnglish: {"N", "NE", "E", "SE", "S", "SW", "W", "NW"},
	LabelsSpanish: {"N", "NE", "E", "SE", "S", "SO", "O", "NO"},
}

// Label returns the text for s in the given set, falling back to English.
func (l LabelSet) Label(s Sector) string {
	t, ok := labelTables[l]
	if !ok {
		t = labelTables[LabelsEnglish]
	}
	if s < North || s > NorthWest {
		return ""
	}
	return t[s]
}

// Classify maps a heading in [0, 360) to its sector. Primary sectors use
// closed bounds of +/-tol around 0, 90, 180 and 270, so boundary values
// belong to the primary sector; diagonals take the open gaps between them.
func Classify(deg, tol float64) Sector {
	switch {
	case deg >= 360-tol || deg <= tol:
		return North
	case deg >= 90-tol && deg <= 90+tol:
		return East
	case deg >= 180-tol && deg <= 180+tol:
		return South
	case deg >= 270-tol && deg <= 270+tol:
		return West
	case deg < 90:
		return NorthEast
	case deg < 180:
		return SouthEast
	case deg < 270:
		return SouthWest
	default:
		return NorthWest
	}
}
