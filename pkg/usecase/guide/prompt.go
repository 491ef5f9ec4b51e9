package guide

import (
	"bytes"
	_ "embed"
	"strings"
	"text/template"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/playbot/pkg/model"
)

//go:embed prompt/guide.md
var guidePromptRaw string

//go:embed prompt/walkthrough.md
var walkthroughInstructions string

//go:embed prompt/levelling.md
var levellingInstructions string

//go:embed prompt/cheats.md
var cheatsInstructions string

//go:embed prompt/unlocks.md
var unlocksInstructions string

var guidePromptTmpl = template.Must(template.New("guide").Parse(guidePromptRaw))

var instructions = map[model.GuideType]string{
	model.GuideTypeWalkthrough: walkthroughInstructions,
	model.GuideTypeLevelling:   levellingInstructions,
	model.GuideTypeCheats:      cheatsInstructions,
	model.GuideTypeUnlocks:     unlocksInstructions,
}

// BuildPrompt renders the generation prompt for a game, guide type and
// platform. Unknown guide types and platforms are rejected instead of
// producing a prompt without guide specific instructions.
func BuildPrompt(gameName string, guideType model.GuideType, platform model.Platform) (string, error) {
	if strings.TrimSpace(gameName) == "" {
		return "", goerr.New("game name is required", goerr.T(model.ErrTagValidation))
	}
	block, ok := instructions[guideType]
	if !ok {
		return "", goerr.New("unsupported guide type", goerr.V("guide_type", string(guideType)), goerr.T(model.ErrTagValidation))
	}
	if err := platform.Validate(); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := guidePromptTmpl.Execute(&buf, map[string]any{
		"GameName":     gameName,
		"GuideType":    string(guideType),
		"Platform":     string(platform),
		"Instructions": strings.TrimSpace(block),
	}); err != nil {
		return "", goerr.Wrap(err, "failed to execute guide prompt template")
	}

	return buf.String(), nil
}
