package model

import (
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// GuideType selects the content template of a guide. The value is the phrase
// used on the wire and inside the prompt.
type GuideType string

const (
	GuideTypeWalkthrough GuideType = "walkthrough"
	GuideTypeLevelling   GuideType = "levelling guide"
	GuideTypeCheats      GuideType = "cheat sheet"
	GuideTypeUnlocks     GuideType = "unlock guide"
)

// GuideTypes lists all supported guide types in display order
var GuideTypes = []GuideType{
	GuideTypeWalkthrough,
	GuideTypeLevelling,
	GuideTypeCheats,
	GuideTypeUnlocks,
}

var guideTypeNames = map[GuideType]string{
	GuideTypeWalkthrough: "Walkthrough",
	GuideTypeLevelling:   "Levelling",
	GuideTypeCheats:      "Cheats",
	GuideTypeUnlocks:     "Unlocks",
}

var guideTypeLabels = map[GuideType]string{
	GuideTypeWalkthrough: "Walkthrough",
	GuideTypeLevelling:   "Levelling Guide",
	GuideTypeCheats:      "Cheat Sheet",
	GuideTypeUnlocks:     "Unlock Guide",
}

// Validate checks if the guide type is one of the supported values
func (t GuideType) Validate() error {
	if _, ok := guideTypeNames[t]; !ok {
		return goerr.New("unsupported guide type", goerr.V("guide_type", string(t)), goerr.T(ErrTagValidation))
	}
	return nil
}

// Name returns the short identifier of the guide type, e.g. "Levelling"
func (t GuideType) Name() string { return guideTypeNames[t] }

// Label returns the human readable label of the guide type
func (t GuideType) Label() string { return guideTypeLabels[t] }

func (t GuideType) String() string { return string(t) }

// ParseGuideType accepts either the wire value ("levelling guide"), the short
// name ("Levelling") or the label ("Levelling Guide"), case-insensitively.
func ParseGuideType(s string) (GuideType, error) {
	key := strings.TrimSpace(s)
	for _, t := range GuideTypes {
		if strings.EqualFold(key, string(t)) ||
			strings.EqualFold(key, t.Name()) ||
			strings.EqualFold(key, t.Label()) {
			return t, nil
		}
	}
	return "", goerr.New("unsupported guide type", goerr.V("guide_type", s), goerr.T(ErrTagValidation))
}

// Platform is the gaming platform a guide is tailored for
type Platform string

const (
	PlatformPC            Platform = "PC"
	PlatformPS5           Platform = "PlayStation 5"
	PlatformPS4           Platform = "PlayStation 4"
	PlatformXboxSeriesX   Platform = "Xbox Series X/S"
	PlatformXboxOne       Platform = "Xbox One"
	PlatformSwitch        Platform = "Nintendo Switch"
	PlatformMobile        Platform = "Mobile (iOS/Android)"
	PlatformMultiplatform Platform = "Multi-platform"
)

// Platforms lists all supported platforms in display order
var Platforms = []Platform{
	PlatformPC,
	PlatformPS5,
	PlatformPS4,
	PlatformXboxSeriesX,
	PlatformXboxOne,
	PlatformSwitch,
	PlatformMobile,
	PlatformMultiplatform,
}

var platformNames = map[Platform]string{
	PlatformPC:            "PC",
	PlatformPS5:           "PS5",
	PlatformPS4:           "PS4",
	PlatformXboxSeriesX:   "XboxSeriesX",
	PlatformXboxOne:       "XboxOne",
	PlatformSwitch:        "Switch",
	PlatformMobile:        "Mobile",
	PlatformMultiplatform: "Multiplatform",
}

// Validate checks if the platform is one of the supported values
func (p Platform) Validate() error {
	if _, ok := platformNames[p]; !ok {
		return goerr.New("unsupported platform", goerr.V("platform", string(p)), goerr.T(ErrTagValidation))
	}
	return nil
}

// Name returns the short identifier of the platform, e.g. "PS5"
func (p Platform) Name() string { return platformNames[p] }

func (p Platform) String() string { return string(p) }

// ParsePlatform accepts either the wire value ("PlayStation 5") or the short
// name ("PS5"), case-insensitively.
func ParsePlatform(s string) (Platform, error) {
	key := strings.TrimSpace(s)
	for _, p := range Platforms {
		if strings.EqualFold(key, string(p)) || strings.EqualFold(key, p.Name()) {
			return p, nil
		}
	}
	return "", goerr.New("unsupported platform", goerr.V("platform", s), goerr.T(ErrTagValidation))
}

// GuideRequest is a single guide generation request. It only lives for the
// duration of one generation call.
type GuideRequest struct {
	GameName  string
	GuideType GuideType
	Platform  Platform
}

// Validate checks that all fields are present and recognized
func (r GuideRequest) Validate() error {
	if strings.TrimSpace(r.GameName) == "" {
		return goerr.New("game name is required", goerr.T(ErrTagValidation))
	}
	if err := r.GuideType.Validate(); err != nil {
		return err
	}
	if err := r.Platform.Validate(); err != nil {
		return err
	}
	return nil
}

// Reference is a web source the provider used to ground a guide
type Reference struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// GuideResult is a generated guide. URIs of References are unique.
type GuideResult struct {
	Guide      string      `json:"guide"`
	References []Reference `json:"references"`
}
