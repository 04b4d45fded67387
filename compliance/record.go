package compliance

// Record is the application metadata a label is verified against. JSON
// field names follow the COLA application export format.
type Record struct {
	ApplicationNum string `json:"application_num"`
	BrandName      string `json:"brand_name"`
	ClassType      string `json:"class"`
	FancifulName   string `json:"fanciful_name,omitempty"`
	BottlerName    string `json:"bottler_name"`
	BottlerAddress string `json:"bottler_address"`
	// AlcoholContent and NetContents are the applicant's declared values.
	// They are informational: the label carries its own statements, which
	// are verified by format and placement rather than by comparison.
	AlcoholContent string `json:"alcohol_content,omitempty"`
	NetContents    string `json:"net_contents,omitempty"`
}

// Field returns the record value an entity feature is matched against.
// Features verified by format rather than record lookup return "".
func (r Record) Field(f Feature) string {
	switch f {
	case FeatureBrandName:
		return r.BrandName
	case FeatureClassType:
		return r.ClassType
	case FeatureFancifulName:
		return r.FancifulName
	case FeatureBottlerName:
		return r.BottlerName
	case FeatureBottlerAddress:
		return r.BottlerAddress
	}
	return ""
}
