package export

import (
	"bytes"
	"context"
	_ "embed"
	"io"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/playbot/pkg/adapter"
	"github.com/m-mizutani/playbot/pkg/model"
	"github.com/m-mizutani/playbot/pkg/utils/logging"
)

//go:embed template/document.md
var documentRaw string

var documentTmpl = template.Must(template.New("document").Funcs(template.FuncMap{
	"inc": func(i int) int { return i + 1 },
}).Parse(documentRaw))

// UseCase writes generated guides to object storage as markdown documents
type UseCase struct {
	storage adapter.Storage
	now     func() time.Time
}

// Option is a functional option for UseCase
type Option func(*UseCase)

// WithClock replaces the timestamp source used in keys and documents
func WithClock(now func() time.Time) Option {
	return func(uc *UseCase) {
		uc.now = now
	}
}

// New creates an export UseCase. storage may be nil, in which case Export
// fails with an export error.
func New(storage adapter.Storage, opts ...Option) *UseCase {
	uc := &UseCase{
		storage: storage,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(uc)
	}
	return uc
}

// Configured reports whether an export destination is available
func (u *UseCase) Configured() bool {
	return u.storage != nil
}

// Render returns the markdown document for a generated guide
func Render(req model.GuideRequest, result *model.GuideResult, exportedAt time.Time) (string, error) {
	if result == nil || strings.TrimSpace(result.Guide) == "" {
		return "", goerr.New("guide content is required", goerr.T(model.ErrTagValidation))
	}

	var buf bytes.Buffer
	if err := documentTmpl.Execute(&buf, map[string]any{
		"GameName":   req.GameName,
		"Label":      req.GuideType.Label(),
		"Platform":   string(req.Platform),
		"ExportedAt": exportedAt.UTC().Format(time.RFC3339),
		"Guide":      strings.TrimSpace(result.Guide),
		"References": result.References,
	}); err != nil {
		return "", goerr.Wrap(err, "failed to render guide document", goerr.T(model.ErrTagExport))
	}
	return buf.String(), nil
}

var slugPattern = regexp.MustCompile(`[^a-z0-9]+`)

func slug(s string) string {
	s = slugPattern.ReplaceAllString(strings.ToLower(s), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "untitled"
	}
	return s
}

// Key returns the object key of an exported guide
func Key(req model.GuideRequest, exportedAt time.Time) string {
	return "guides/" + slug(req.GameName) + "/" +
		slug(req.GuideType.Name()) + "-" + slug(req.Platform.Name()) + "-" +
		exportedAt.UTC().Format("20060102T150405Z") + ".md"
}

// Export renders the guide and writes it to storage, returning its key
func (u *UseCase) Export(ctx context.Context, req model.GuideRequest, result *model.GuideResult) (string, error) {
	if u.storage == nil {
		return "", goerr.New("export storage is not configured", goerr.T(model.ErrTagExport), goerr.T(model.ErrTagConfig))
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	now := u.now()
	doc, err := Render(req, result, now)
	if err != nil {
		return "", err
	}

	key := Key(req, now)
	w, err := u.storage.Put(ctx, key)
	if err != nil {
		return "", goerr.Wrap(err, "failed to open export destination", goerr.T(model.ErrTagExport), goerr.V("key", key))
	}
	if _, err := w.Write([]byte(doc)); err != nil {
		_ = w.Close()
		return "", goerr.Wrap(err, "failed to write exported guide", goerr.T(model.ErrTagExport), goerr.V("key", key))
	}
	if err := w.Close(); err != nil {
		return "", goerr.Wrap(err, "failed to finalize exported guide", goerr.T(model.ErrTagExport), goerr.V("key", key))
	}

	logging.From(ctx).Info("guide exported", "key", key, "size", len(doc))
	return key, nil
}

// Open returns a reader of an exported guide previously written by Export.
// Only keys under guides/ ending with .md are accepted.
func (u *UseCase) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if u.storage == nil {
		return nil, goerr.New("export storage is not configured", goerr.T(model.ErrTagExport), goerr.T(model.ErrTagConfig))
	}
	if !strings.HasPrefix(key, "guides/") || !strings.HasSuffix(key, ".md") || strings.Contains(key, "..") {
		return nil, goerr.New("invalid export key", goerr.T(model.ErrTagValidation), goerr.V("key", key))
	}

	r, err := u.storage.Get(ctx, key)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open exported guide", goerr.T(model.ErrTagExport), goerr.V("key", key))
	}
	return r, nil
}
