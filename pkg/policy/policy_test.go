package policy_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/playbot/pkg/model"
	"github.com/m-mizutani/playbot/pkg/policy"
)

const requestPolicy = `package playbot.request

deny contains msg if {
	lower(input.game_name) == data.blocklist.games[_]
	msg := sprintf("%s is not supported", [input.game_name])
}

deny contains "cheat sheets are disabled on mobile" if {
	input.guide_type == "cheat sheet"
	input.platform == "Mobile (iOS/Android)"
}
`

const historyPolicy = `package playbot.history

default save := true

save := false if {
	input.guide_length < data.blocklist.min_length
}
`

const blocklist = `games:
  - forbidden quest
min_length: 10
`

func writePolicies(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		gt.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0644))
	}
	return dir
}

func request(game string, guideType model.GuideType, platform model.Platform) model.GuideRequest {
	return model.GuideRequest{GameName: game, GuideType: guideType, Platform: platform}
}

func TestCheckRequest(t *testing.T) {
	ctx := context.Background()
	dir := writePolicies(t, map[string]string{
		"request.rego":   requestPolicy,
		"blocklist.yaml": blocklist,
	})

	engine, err := policy.Load(ctx, dir)
	gt.NoError(t, err)

	t.Run("allowed", func(t *testing.T) {
		gt.NoError(t, engine.CheckRequest(ctx, request("Hades", model.GuideTypeWalkthrough, model.PlatformPC)))
	})

	t.Run("blocked game from yaml data", func(t *testing.T) {
		err := engine.CheckRequest(ctx, request("Forbidden Quest", model.GuideTypeWalkthrough, model.PlatformPC))
		gt.Error(t, err)
		gt.True(t, goerr.HasTag(err, model.ErrTagValidation))
		gt.S(t, err.Error()).Contains("Forbidden Quest is not supported")
	})

	t.Run("combination rule", func(t *testing.T) {
		err := engine.CheckRequest(ctx, request("Hades", model.GuideTypeCheats, model.PlatformMobile))
		gt.Error(t, err)
		gt.S(t, err.Error()).Contains("disabled on mobile")
	})
}

func TestShouldAutoSave(t *testing.T) {
	ctx := context.Background()
	dir := writePolicies(t, map[string]string{
		"history.rego":  historyPolicy,
		"blocklist.yml": blocklist,
	})

	engine, err := policy.Load(ctx, dir)
	gt.NoError(t, err)

	req := request("Hades", model.GuideTypeLevelling, model.PlatformPC)

	save, err := engine.ShouldAutoSave(ctx, req, "short")
	gt.NoError(t, err)
	gt.False(t, save)

	save, err = engine.ShouldAutoSave(ctx, req, "a sufficiently long guide")
	gt.NoError(t, err)
	gt.True(t, save)

	// no request package: everything is allowed
	gt.NoError(t, engine.CheckRequest(ctx, request("Forbidden Quest", model.GuideTypeWalkthrough, model.PlatformPC)))
}

func TestEmptyDirectory(t *testing.T) {
	ctx := context.Background()

	engine, err := policy.Load(ctx, t.TempDir())
	gt.NoError(t, err)
	gt.NoError(t, engine.CheckRequest(ctx, request("Anything", model.GuideTypeUnlocks, model.PlatformPS5)))

	save, err := engine.ShouldAutoSave(ctx, request("Anything", model.GuideTypeUnlocks, model.PlatformPS5), "")
	gt.NoError(t, err)
	gt.True(t, save)
}

func TestNilEngine(t *testing.T) {
	var engine *policy.Engine
	gt.NoError(t, engine.CheckRequest(context.Background(), request("Hades", model.GuideTypeCheats, model.PlatformPC)))
}

func TestInvalidPolicy(t *testing.T) {
	dir := writePolicies(t, map[string]string{
		"broken.rego": "package playbot.request\n\ndeny contains msg if {",
	})
	_, err := policy.Load(context.Background(), dir)
	gt.Error(t, err)
}

func TestInvalidData(t *testing.T) {
	dir := writePolicies(t, map[string]string{
		"request.rego":   requestPolicy,
		"blocklist.yaml": "games: [unterminated",
	})
	_, err := policy.Load(context.Background(), dir)
	gt.Error(t, err)
}
