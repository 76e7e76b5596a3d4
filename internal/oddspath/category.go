package oddspath

// Category is the PS3/BS3 evidence label assigned to one row.
type Category string

const (
	CategoryBS3           Category = "BS3"
	CategoryBS3Moderate   Category = "BS3_moderate"
	CategoryBS3Supporting Category = "BS3_supporting"
	CategoryIndeterminate Category = "Indeterminate"
	CategoryPS3Supporting Category = "PS3_supporting"
	CategoryPS3Moderate   Category = "PS3_moderate"
	CategoryPS3           Category = "PS3"
	CategoryPS3VeryStrong Category = "PS3_very_strong"
	CategoryDoNotUse      Category = "Do not use PS3/BS3"
	CategoryMaxModerate   Category = "Max PS3_moderate / Max BS3_moderate"
	CategoryMaxSupporting Category = "Max PS3_supporting / Max BS3_supporting"
)

var allCategories = []Category{
	CategoryBS3,
	CategoryBS3Moderate,
	CategoryBS3Supporting,
	CategoryIndeterminate,
	CategoryPS3Supporting,
	CategoryPS3Moderate,
	CategoryPS3,
	CategoryPS3VeryStrong,
	CategoryDoNotUse,
	CategoryMaxModerate,
	CategoryMaxSupporting,
}

// AllCategories lists every label the classifier can produce.
func AllCategories() []Category {
	return append([]Category(nil), allCategories...)
}

// Valid reports whether c is one of AllCategories.
func (c Category) Valid() bool {
	for _, known := range allCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Band maps an odds ratio onto the evidence bands. The checks run in a fixed
// order and the boundaries are part of the contract: 0.053, 0.23 and 0.48 are
// exclusive upper bounds, 2.1 is inclusive for Indeterminate, and 350, 18.7,
// 4.3 and 2.1 are exclusive lower bounds.
func Band(oddsRatio float64) Category {
	switch {
	case oddsRatio < 0.053:
		return CategoryBS3
	case oddsRatio < 0.23:
		return CategoryBS3Moderate
	case oddsRatio < 0.48:
		return CategoryBS3Supporting
	case oddsRatio <= 2.1:
		return CategoryIndeterminate
	case oddsRatio > 350:
		return CategoryPS3VeryStrong
	case oddsRatio > 18.7:
		return CategoryPS3
	case oddsRatio > 4.3:
		return CategoryPS3Moderate
	case oddsRatio > 2.1:
		return CategoryPS3Supporting
	default:
		return CategoryIndeterminate
	}
}
