package safety

import "strings"

// Resource is an emergency contact shown to users at risk.
type Resource struct {
	Name        string  `json:"name"`
	Phone       *string `json:"phone"`
	Website     string  `json:"website"`
	Available24 bool    `json:"available_24_7"`
}

func phone(s string) *string { return &s }

var internationalResources = []Resource{
	{Name: "International Crisis Text Line", Phone: phone("Text HOME to 741741"), Website: "https://www.crisistextline.org", Available24: true},
	{Name: "International Association for Suicide Prevention", Website: "https://www.iasp.info/resources/Crisis_Centres/", Available24: true},
}

var countryResources = map[string][]Resource{
	"US": {
		{Name: "National Suicide Prevention Lifeline", Phone: phone("988"), Website: "https://988lifeline.org", Available24: true},
		{Name: "Crisis Text Line", Phone: phone("Text HOME to 741741"), Website: "https://www.crisistextline.org", Available24: true},
	},
	"CA": {
		{Name: "Crisis Services Canada", Phone: phone("1-833-456-4566"), Website: "https://www.crisisservicescanada.ca", Available24: true},
	},
	"IN": {
		{Name: "Kiran Mental Health Rehabilitation Helpline (Govt. of India)", Phone: phone("1800-599-0019"), Website: "https://www.mohfw.gov.in/", Available24: true},
		{Name: "AASRA", Phone: phone("+91-9820466726"), Website: "https://aasra.info/", Available24: true},
		{Name: "iCALL (TISS)", Phone: phone("+91-9152987821"), Website: "https://icallhelpline.org/", Available24: false},
	},
}

// Resources returns country-specific contacts followed by the international
// defaults. Unknown or empty country codes yield only the defaults. The
// second result is the label to report for the region.
func Resources(country string) ([]Resource, string) {
	code := strings.ToUpper(strings.TrimSpace(country))
	local, ok := countryResources[code]
	if !ok {
		out := append([]Resource(nil), internationalResources...)
		if code == "" {
			return out, "International"
		}
		return out, country
	}
	out := make([]Resource, 0, len(local)+len(internationalResources))
	out = append(out, local...)
	out = append(out, internationalResources...)
	return out, country
}
