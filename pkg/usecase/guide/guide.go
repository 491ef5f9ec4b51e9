package guide

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/playbot/pkg/adapter"
	"github.com/m-mizutani/playbot/pkg/model"
	"github.com/m-mizutani/playbot/pkg/utils/logging"
	"google.golang.org/genai"
)

// Sampling parameters of every generation request
const (
	Temperature float32 = 0.7
	TopP        float32 = 0.95
)

// RequestPolicy decides whether a valid request may be sent to Gemini
type RequestPolicy interface {
	CheckRequest(ctx context.Context, req model.GuideRequest) error
}

// UseCase generates game guides with Gemini
type UseCase struct {
	gemini adapter.Gemini
	policy RequestPolicy
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithPolicy rejects requests denied by p before any outbound call
func WithPolicy(p RequestPolicy) Option {
	return func(u *UseCase) {
		u.policy = p
	}
}

// New creates a guide UseCase. gemini may be nil when no API key is
// configured; every Generate call then fails with an error tagged
// model.ErrTagConfig.
func New(gemini adapter.Gemini, opts ...Option) *UseCase {
	u := &UseCase{gemini: gemini}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Configured reports whether a Gemini client is available
func (u *UseCase) Configured() bool {
	return u.gemini != nil
}

// Generate builds the prompt for req, asks Gemini with Google Search
// grounding and returns the guide text with its deduplicated references.
func (u *UseCase) Generate(ctx context.Context, req model.GuideRequest) (*model.GuideResult, error) {
	if u.gemini == nil {
		return nil, goerr.New("Server configuration error: Missing API Key.",
			goerr.T(model.ErrTagConfig),
			goerr.T(model.ErrTagProvider),
		)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if u.policy != nil {
		if err := u.policy.CheckRequest(ctx, req); err != nil {
			return nil, err
		}
	}

	prompt, err := BuildPrompt(req.GameName, req.GuideType, req.Platform)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(Temperature),
		TopP:        genai.Ptr(TopP),
		Tools: []*genai.Tool{
			{GoogleSearch: &genai.GoogleSearch{}},
		},
	}
	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}

	logging.From(ctx).Debug("requesting guide",
		"game", req.GameName,
		"guide_type", req.GuideType,
		"platform", req.Platform,
	)

	resp, err := u.gemini.GenerateContent(ctx, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "Failed to get a response from the AI.",
			goerr.T(model.ErrTagProvider),
			goerr.V("game", req.GameName),
			goerr.V("guide_type", req.GuideType),
		)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, goerr.New("Failed to get a response from the AI.",
			goerr.T(model.ErrTagProvider),
			goerr.V("reason", "no candidates"),
		)
	}

	result := &model.GuideResult{
		Guide:      resp.Text(),
		References: ExtractReferences(resp),
	}

	logging.From(ctx).Info("guide generated",
		"game", req.GameName,
		"guide_type", req.GuideType,
		"platform", req.Platform,
		"length", len(result.Guide),
		"references", len(result.References),
	)

	return result, nil
}

// ExtractReferences maps grounding chunks of the first candidate to
// references. Chunks without URI or title are dropped.
func ExtractReferences(resp *genai.GenerateContentResponse) []model.Reference {
	if resp == nil || len(resp.Candidates) == 0 {
		return []model.Reference{}
	}
	meta := resp.Candidates[0].GroundingMetadata
	if meta == nil {
		return []model.Reference{}
	}

	refs := make([]model.Reference, 0, len(meta.GroundingChunks))
	for _, chunk := range meta.GroundingChunks {
		if chunk == nil || chunk.Web == nil {
			continue
		}
		refs = append(refs, model.Reference{
			URI:   chunk.Web.URI,
			Title: chunk.Web.Title,
		})
	}
	return DedupeReferences(refs)
}

// DedupeReferences drops references missing URI or title and collapses
// duplicates by URI. The last title seen for a URI wins while the position of
// its first occurrence is kept.
func DedupeReferences(refs []model.Reference) []model.Reference {
	index := make(map[string]int, len(refs))
	out := make([]model.Reference, 0, len(refs))

	for _, ref := range refs {
		if ref.URI == "" || ref.Title == "" {
			continue
		}
		if i, ok := index[ref.URI]; ok {
			out[i].Title = ref.Title
			continue
		}
		index[ref.URI] = len(out)
		out = append(out, ref)
	}
	return out
}
