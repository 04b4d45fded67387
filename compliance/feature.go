package compliance

import "fmt"

// Feature identifies one of the eight label elements a malt-beverage
// label must carry.
type Feature int

const (
	FeatureBrandName Feature = iota
	FeatureClassType
	FeatureFancifulName
	FeatureBottlerName
	FeatureBottlerAddress
	FeatureAlcoholContent
	FeatureNetContents
	FeatureGovernmentWarning

	numFeatures
)

// NumFeatures is the number of mandated label features.
const NumFeatures = int(numFeatures)

func (f Feature) String() string {
	switch f {
	case FeatureBrandName:
		return "brand name"
	case FeatureClassType:
		return "class"
	case FeatureFancifulName:
		return "fanciful name"
	case FeatureBottlerName:
		return "bottler name"
	case FeatureBottlerAddress:
		return "bottler address"
	case FeatureAlcoholContent:
		return "alcohol content"
	case FeatureNetContents:
		return "net content"
	case FeatureGovernmentWarning:
		return "government warning"
	default:
		return "unknown"
	}
}

// Features returns all mandated features in verdict order.
func Features() []Feature {
	fs := make([]Feature, NumFeatures)
	for i := range fs {
		fs[i] = Feature(i)
	}
	return fs
}

// ParseFeature maps a feature name back to its Feature value.
func ParseFeature(s string) (Feature, error) {
	for _, f := range Features() {
		if f.String() == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown feature %q", s)
}

// MarshalText encodes the feature as its name.
func (f Feature) MarshalText() ([]byte, error) {
	return []byte(f.String()), nil
}

// UnmarshalText decodes a feature from its name.
func (f *Feature) UnmarshalText(text []byte) error {
	parsed, err := ParseFeature(string(text))
	if err != nil {
		return err
	}
	*f = parsed
	return nil
}
