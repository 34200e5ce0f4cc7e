// Package assettag builds and parses the human readable tags stamped on
// assigned devices: CAT/DIS/SCH/NNNN.
package assettag

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"rtb-inventory-api/internal/models"
)

const (
	districtLen  = 3
	maxSchoolLen = 8
	minSeqDigits = 4
	separator    = "/"
	districtPad  = 'X'
)

var categoryCodes = map[models.DeviceCategory]string{
	models.CategoryLaptop:    "LAP",
	models.CategoryDesktop:   "DESK",
	models.CategoryTablet:    "TAB",
	models.CategoryProjector: "PROJ",
	models.CategoryOthers:    "OTH",
}

// CategoryCode returns the fixed code for a category
func CategoryCode(c models.DeviceCategory) (string, bool) {
	code, ok := categoryCodes[c]
	return code, ok
}

// DistrictCode derives the three letter district code, e.g. "Gasabo" -> "GAS".
// Short names are padded with X.
func DistrictCode(district string) string {
	code := alnumUpper(district, districtLen)
	for len(code) < districtLen {
		code += string(districtPad)
	}
	return code
}

// SchoolCode normalizes a school code: upper case, alphanumerics only, at most 8 characters
func SchoolCode(code string) string {
	return alnumUpper(code, maxSchoolLen)
}

// Generate returns the tag for the seq-th device of a category at a school.
// seq starts at 1 and is zero padded to at least four digits.
func Generate(category models.DeviceCategory, district, schoolCode string, seq int) (string, error) {
	cat, ok := categoryCodes[category]
	if !ok {
		return "", fmt.Errorf("unknown device category %q", category)
	}
	if seq < 1 {
		return "", fmt.Errorf("sequence must be positive, got %d", seq)
	}
	sch := SchoolCode(schoolCode)
	if sch == "" {
		return "", fmt.Errorf("school code %q has no usable characters", schoolCode)
	}
	return strings.Join([]string{
		cat,
		DistrictCode(district),
		sch,
		fmt.Sprintf("%0*d", minSeqDigits, seq),
	}, separator), nil
}

// Tag is a parsed asset tag
type Tag struct {
	Category models.DeviceCategory
	District string
	School   string
	Sequence int
}

// Parse validates a tag and splits it into its parts
func Parse(tag string) (Tag, error) {
	parts := strings.Split(tag, separator)
	if len(parts) != 4 {
		return Tag{}, fmt.Errorf("tag %q: expected 4 parts, got %d", tag, len(parts))
	}
	var out Tag
	found := false
	for c, code := range categoryCodes {
		if code == parts[0] {
			out.Category = c
			found = true
			break
		}
	}
	if !found {
		return Tag{}, fmt.Errorf("tag %q: unknown category code %q", tag, parts[0])
	}
	if len(parts[1]) != districtLen || alnumUpper(parts[1], districtLen) != parts[1] {
		return Tag{}, fmt.Errorf("tag %q: malformed district code %q", tag, parts[1])
	}
	if parts[2] == "" || SchoolCode(parts[2]) != parts[2] {
		return Tag{}, fmt.Errorf("tag %q: malformed school code %q", tag, parts[2])
	}
	if len(parts[3]) < minSeqDigits {
		return Tag{}, fmt.Errorf("tag %q: sequence %q shorter than %d digits", tag, parts[3], minSeqDigits)
	}
	seq, err := strconv.Atoi(parts[3])
	if err != nil || seq < 1 {
		return Tag{}, fmt.Errorf("tag %q: invalid sequence %q", tag, parts[3])
	}
	out.District = parts[1]
	out.School = parts[2]
	out.Sequence = seq
	return out, nil
}

func alnumUpper(s string, max int) string {
	var b strings.Builder
	for _, r := range s {
		if b.Len() >= max {
			break
		}
		if r > unicode.MaxASCII || !(unicode.IsLetter(r) || unicode.IsDigit(r)) {
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}
