// Package policy evaluates operator supplied Rego policies. Two packages are
// recognized:
//
//	package playbot.request   deny contains msg if { ... }
//	package playbot.history   save := false if { ... }
//
// A request that produces any deny message is rejected before it reaches
// Gemini. The history policy only gates background auto-save; an explicit
// save is never filtered. YAML files in the same directory are loaded as
// data documents under data.<file name without extension>.
package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/playbot/pkg/model"
	"github.com/m-mizutani/playbot/pkg/utils/logging"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/open-policy-agent/opa/v1/topdown/print"
	"gopkg.in/yaml.v3"
)

const (
	requestQuery = "data.playbot.request.deny"
	historyQuery = "data.playbot.history.save"
)

// printHook forwards Rego print() output to the ctx logger
type printHook struct {
	ctx context.Context
}

func (h *printHook) Print(_ print.Context, message string) error {
	logging.From(h.ctx).Debug("rego print", "message", message)
	return nil
}

// Engine holds prepared queries. A zero Engine, or one loaded from a
// directory without policies, allows everything.
type Engine struct {
	request *rego.PreparedEvalQuery
	history *rego.PreparedEvalQuery
}

// Load reads every *.rego and *.yaml/*.yml file in dir
func Load(ctx context.Context, dir string) (*Engine, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.rego"))
	if err != nil {
		return nil, goerr.Wrap(err, "failed to glob policy files", goerr.V("dir", dir))
	}
	if len(files) == 0 {
		logging.From(ctx).Warn("no policy files found", "dir", dir)
		return &Engine{}, nil
	}

	options := make([]func(*rego.Rego), 0, len(files)+2)
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read policy file", goerr.V("path", file))
		}
		options = append(options, rego.Module(file, string(raw)))
	}

	data, err := loadData(dir)
	if err != nil {
		return nil, err
	}
	options = append(options, rego.Store(inmem.NewFromReader(bytes.NewReader(data))))
	options = append(options, rego.EnablePrintStatements(true))

	request, err := prepareQuery(ctx, options, requestQuery)
	if err != nil {
		return nil, err
	}
	history, err := prepareQuery(ctx, options, historyQuery)
	if err != nil {
		return nil, err
	}

	logging.From(ctx).Info("policy loaded", "dir", dir, "modules", len(files))
	return &Engine{request: request, history: history}, nil
}

// loadData merges YAML documents of dir into one JSON object keyed by
// file name
func loadData(dir string) ([]byte, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matched, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, goerr.Wrap(err, "failed to glob data files", goerr.V("dir", dir))
		}
		files = append(files, matched...)
	}
	sort.Strings(files)

	data := make(map[string]any, len(files))
	for _, file := range files {
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to read data file", goerr.V("path", file))
		}

		var doc any
		if err := yaml.Unmarshal(raw, &doc); err != nil {
			return nil, goerr.Wrap(err, "failed to parse data file", goerr.V("path", file))
		}

		name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		if _, exists := data[name]; exists {
			return nil, goerr.New("duplicated data document", goerr.V("name", name), goerr.V("path", file))
		}
		data[name] = doc
	}

	out, err := json.Marshal(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode policy data")
	}
	return out, nil
}

// prepareQuery prepares a Rego query with all loaded modules
func prepareQuery(ctx context.Context, options []func(*rego.Rego), query string) (*rego.PreparedEvalQuery, error) {
	opts := append([]func(*rego.Rego){rego.Query(query)}, options...)

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to prepare query", goerr.V("query", query))
	}
	return &prepared, nil
}

func requestInput(req model.GuideRequest) map[string]any {
	return map[string]any{
		"game_name":  req.GameName,
		"guide_type": string(req.GuideType),
		"platform":   string(req.Platform),
	}
}

// CheckRequest returns a validation error listing every deny message
// produced for req
func (e *Engine) CheckRequest(ctx context.Context, req model.GuideRequest) error {
	if e == nil || e.request == nil {
		return nil
	}

	rs, err := e.request.Eval(ctx, rego.EvalInput(requestInput(req)), rego.EvalPrintHook(&printHook{ctx: ctx}))
	if err != nil {
		return goerr.Wrap(err, "failed to evaluate request policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return nil
	}

	values, ok := rs[0].Expressions[0].Value.([]any)
	if !ok {
		return goerr.New("deny must be a set of strings", goerr.V("value", rs[0].Expressions[0].Value))
	}

	var reasons []string
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			reasons = append(reasons, s)
		}
	}
	if len(reasons) == 0 {
		return nil
	}
	sort.Strings(reasons)

	logging.From(ctx).Info("request rejected by policy", "game", req.GameName, "reasons", reasons)
	return goerr.New("Request rejected: "+strings.Join(reasons, "; "),
		goerr.T(model.ErrTagValidation),
		goerr.V("game", req.GameName),
	)
}

// ShouldAutoSave reports whether a generated guide is recorded by auto-save.
// An undefined history.save means true.
func (e *Engine) ShouldAutoSave(ctx context.Context, req model.GuideRequest, guide string) (bool, error) {
	if e == nil || e.history == nil {
		return true, nil
	}

	input := requestInput(req)
	input["guide_length"] = len([]rune(guide))

	rs, err := e.history.Eval(ctx, rego.EvalInput(input), rego.EvalPrintHook(&printHook{ctx: ctx}))
	if err != nil {
		return false, goerr.Wrap(err, "failed to evaluate history policy")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return true, nil
	}

	save, ok := rs[0].Expressions[0].Value.(bool)
	if !ok {
		return false, goerr.New("history.save must be a boolean", goerr.V("value", rs[0].Expressions[0].Value))
	}
	return save, nil
}
