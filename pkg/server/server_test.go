package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/playbot/pkg/adapter"
	"github.com/m-mizutani/playbot/pkg/model"
	"github.com/m-mizutani/playbot/pkg/repository"
	"github.com/m-mizutani/playbot/pkg/server"
	"github.com/m-mizutani/playbot/pkg/service/mcp"
	"github.com/m-mizutani/playbot/pkg/usecase/export"
	"github.com/m-mizutani/playbot/pkg/usecase/guide"
	"github.com/m-mizutani/playbot/pkg/usecase/history"
	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"google.golang.org/genai"
)

type mockGemini struct {
	generateFunc func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	calls        int
}

func (m *mockGemini) GenerateContent(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	m.calls++
	if m.generateFunc != nil {
		return m.generateFunc(ctx, contents, config)
	}
	return nil, errors.New("not implemented")
}

func groundedGemini() *mockGemini {
	return &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{
					{
						Content: genai.NewContentFromText("# Cheat Sheet", genai.RoleModel),
						GroundingMetadata: &genai.GroundingMetadata{
							GroundingChunks: []*genai.GroundingChunk{
								{Web: &genai.GroundingChunkWeb{URI: "https://a.example", Title: "A1"}},
								{Web: &genai.GroundingChunkWeb{URI: "https://b.example", Title: "B"}},
								{Web: &genai.GroundingChunkWeb{URI: "https://a.example", Title: "A2"}},
							},
						},
					},
				},
			}, nil
		},
	}
}

// failingRepository fails every operation
type failingRepository struct{}

func (failingRepository) Migrate(ctx context.Context) error { return errors.New("unavailable") }
func (failingRepository) PutHistory(ctx context.Context, record *model.HistoryRecord) error {
	return errors.New("connection refused")
}
func (failingRepository) ListHistory(ctx context.Context, limit int) ([]*model.HistoryItem, error) {
	return nil, errors.New("connection refused")
}
func (failingRepository) Close() error { return nil }

func newSQLite(t *testing.T, migrate bool) *repository.SQLite {
	t.Helper()
	repo, err := repository.NewSQLite(filepath.Join(t.TempDir(), "history.db"))
	gt.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	if migrate {
		gt.NoError(t, repo.Migrate(context.Background()))
	}
	return repo
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch v := body.(type) {
		case string:
			buf.WriteString(v)
		default:
			gt.NoError(t, json.NewEncoder(&buf).Encode(v))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details"`
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

var cheatsBody = map[string]string{
	"gameName":  "GTA V",
	"guideType": "cheat sheet",
	"platform":  "PlayStation 4",
}

func TestGenerateGuide(t *testing.T) {
	gemini := groundedGemini()
	srv := server.New(guide.New(gemini), history.New(newSQLite(t, true)))

	w := doJSON(t, srv, http.MethodPost, "/generate-guide", cheatsBody)
	gt.Equal(t, w.Code, http.StatusOK)
	gt.True(t, w.Header().Get("X-Request-Id") != "")

	result := decode[model.GuideResult](t, w)
	gt.Equal(t, result.Guide, "# Cheat Sheet")
	gt.Equal(t, result.References, []model.Reference{
		{URI: "https://a.example", Title: "A2"},
		{URI: "https://b.example", Title: "B"},
	})
	gt.Equal(t, gemini.calls, 1)
}

func TestGenerateGuide_APIPrefix(t *testing.T) {
	srv := server.New(guide.New(groundedGemini()), history.New(newSQLite(t, true)))

	w := doJSON(t, srv, http.MethodPost, "/api/generate-guide", cheatsBody)
	gt.Equal(t, w.Code, http.StatusOK)
}

func TestGenerateGuide_MissingFields(t *testing.T) {
	gemini := groundedGemini()
	srv := server.New(guide.New(gemini), history.New(newSQLite(t, true)))

	for _, field := range []string{"gameName", "guideType", "platform"} {
		t.Run(field, func(t *testing.T) {
			body := map[string]string{}
			for k, v := range cheatsBody {
				if k != field {
					body[k] = v
				}
			}
			w := doJSON(t, srv, http.MethodPost, "/generate-guide", body)
			gt.Equal(t, w.Code, http.StatusBadRequest)
			gt.S(t, decode[errorBody](t, w).Error).Contains("Missing required fields")
		})
	}
	gt.Equal(t, gemini.calls, 0)
}

func TestGenerateGuide_InvalidInput(t *testing.T) {
	gemini := groundedGemini()
	srv := server.New(guide.New(gemini), history.New(newSQLite(t, true)))

	t.Run("unknown guide type", func(t *testing.T) {
		w := doJSON(t, srv, http.MethodPost, "/generate-guide", map[string]string{
			"gameName": "GTA V", "guideType": "speedrun", "platform": "PC",
		})
		gt.Equal(t, w.Code, http.StatusBadRequest)
	})

	t.Run("malformed body", func(t *testing.T) {
		w := doJSON(t, srv, http.MethodPost, "/generate-guide", "{not json")
		gt.Equal(t, w.Code, http.StatusBadRequest)
	})

	gt.Equal(t, gemini.calls, 0)
}

func TestGenerateGuide_MissingAPIKey(t *testing.T) {
	srv := server.New(guide.New(nil), history.New(newSQLite(t, true)))

	w := doJSON(t, srv, http.MethodPost, "/generate-guide", cheatsBody)
	gt.Equal(t, w.Code, http.StatusInternalServerError)
	gt.Equal(t, decode[errorBody](t, w).Error, "Server configuration error: Missing API Key.")
}

func TestGenerateGuide_ProviderError(t *testing.T) {
	gemini := &mockGemini{
		generateFunc: func(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			return nil, errors.New("upstream unavailable")
		},
	}
	srv := server.New(guide.New(gemini), history.New(newSQLite(t, true)))

	w := doJSON(t, srv, http.MethodPost, "/generate-guide", cheatsBody)
	gt.Equal(t, w.Code, http.StatusInternalServerError)

	body := decode[errorBody](t, w)
	gt.Equal(t, body.Error, "Failed to get a response from the AI.")
	gt.Equal(t, body.Details, "upstream unavailable")
}

func TestGenerateGuide_AutoSave(t *testing.T) {
	srv := server.New(guide.New(groundedGemini()), history.New(newSQLite(t, true)), server.WithAutoSave(true))

	w := doJSON(t, srv, http.MethodPost, "/generate-guide", cheatsBody)
	gt.Equal(t, w.Code, http.StatusOK)
	srv.WaitBackground()

	w = doJSON(t, srv, http.MethodGet, "/get-history", nil)
	gt.Equal(t, w.Code, http.StatusOK)
	items := decode[[]model.HistoryItem](t, w)
	gt.A(t, items).Length(1)
	gt.Equal(t, items[0].GameName, "GTA V")
	gt.Equal(t, items[0].GuideType, model.GuideTypeCheats)
}

func TestGenerateGuide_AutoSaveFailureDoesNotFailRequest(t *testing.T) {
	srv := server.New(guide.New(groundedGemini()), history.New(failingRepository{}), server.WithAutoSave(true))

	w := doJSON(t, srv, http.MethodPost, "/generate-guide", cheatsBody)
	srv.WaitBackground()
	gt.Equal(t, w.Code, http.StatusOK)
}

func TestSaveHistory(t *testing.T) {
	srv := server.New(guide.New(nil), history.New(newSQLite(t, true)))

	body := map[string]string{
		"gameName":  "Celeste",
		"guideType": "walkthrough",
		"platform":  "Nintendo Switch",
		"guide":     strings.Repeat("a", 300),
	}
	w := doJSON(t, srv, http.MethodPost, "/save-history", body)
	gt.Equal(t, w.Code, http.StatusCreated)
	gt.S(t, w.Body.String()).Contains("History saved")

	delete(body, "guide")
	w = doJSON(t, srv, http.MethodPost, "/save-history", body)
	gt.Equal(t, w.Code, http.StatusBadRequest)
}

func TestSaveHistory_StorageError(t *testing.T) {
	srv := server.New(guide.New(nil), history.New(failingRepository{}))

	w := doJSON(t, srv, http.MethodPost, "/save-history", map[string]string{
		"gameName": "Celeste", "guideType": "walkthrough", "platform": "PC", "guide": "g",
	})
	gt.Equal(t, w.Code, http.StatusInternalServerError)
	body := decode[errorBody](t, w)
	gt.Equal(t, body.Error, "Failed to save history")
	gt.Equal(t, body.Details, "connection refused")
}

func TestGetHistory(t *testing.T) {
	repo := newSQLite(t, true)
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 12; i++ {
		uc := history.New(repo, history.WithClock(func() time.Time { return base.Add(time.Duration(i) * time.Minute) }))
		_, err := uc.Record(context.Background(), history.RecordInput{
			GameName:  fmt.Sprintf("Game %02d", i),
			GuideType: model.GuideTypeLevelling,
			Platform:  model.PlatformPC,
			Guide:     "guide",
		})
		gt.NoError(t, err)
	}
	srv := server.New(guide.New(nil), history.New(repo))

	w := doJSON(t, srv, http.MethodGet, "/api/get-history", nil)
	gt.Equal(t, w.Code, http.StatusOK)

	var items []map[string]any
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &items))
	gt.A(t, items).Length(10)
	gt.Equal(t, items[0]["game_name"], any("Game 11"))
	gt.Equal(t, items[9]["game_name"], any("Game 02"))
	for _, key := range []string{"id", "game_name", "guide_type", "platform", "created_at"} {
		_, ok := items[0][key]
		gt.True(t, ok)
	}
	_, hasSnippet := items[0]["guide_snippet"]
	gt.False(t, hasSnippet)
}

func TestGetHistory_NoTable(t *testing.T) {
	srv := server.New(guide.New(nil), history.New(newSQLite(t, false)))

	w := doJSON(t, srv, http.MethodGet, "/get-history", nil)
	gt.Equal(t, w.Code, http.StatusOK)
	gt.Equal(t, strings.TrimSpace(w.Body.String()), "[]")
}

func TestGetHistory_StorageError(t *testing.T) {
	srv := server.New(guide.New(nil), history.New(failingRepository{}))

	w := doJSON(t, srv, http.MethodGet, "/get-history", nil)
	gt.Equal(t, w.Code, http.StatusInternalServerError)
	gt.Equal(t, decode[errorBody](t, w).Error, "Failed to fetch history")
}

func TestMethodNotAllowed(t *testing.T) {
	srv := server.New(guide.New(nil), history.New(newSQLite(t, true)))

	w := doJSON(t, srv, http.MethodGet, "/generate-guide", nil)
	gt.Equal(t, w.Code, http.StatusMethodNotAllowed)
	gt.Equal(t, decode[errorBody](t, w).Error, "Method Not Allowed")

	w = doJSON(t, srv, http.MethodPost, "/get-history", nil)
	gt.Equal(t, w.Code, http.StatusMethodNotAllowed)
}

func TestExportGuide(t *testing.T) {
	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)
	srv := server.New(guide.New(nil), history.New(newSQLite(t, true)), server.WithExport(export.New(storage)))

	w := doJSON(t, srv, http.MethodPost, "/export-guide", map[string]any{
		"gameName":  "GTA V",
		"guideType": "cheat sheet",
		"platform":  "PC",
		"guide":     "# Cheats",
		"references": []map[string]string{
			{"uri": "https://a.example", "title": "A"},
		},
	})
	gt.Equal(t, w.Code, http.StatusCreated)

	var resp struct {
		Key string `json:"key"`
	}
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	gt.S(t, resp.Key).Contains("guides/gta-v/cheats-pc-")

	r, err := storage.Get(context.Background(), resp.Key)
	gt.NoError(t, err)
	defer r.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	gt.NoError(t, err)
	gt.S(t, buf.String()).Contains("[A](https://a.example)")
}

func TestGetExportedGuide(t *testing.T) {
	storage, err := adapter.NewFileStorage(t.TempDir())
	gt.NoError(t, err)
	srv := server.New(guide.New(nil), history.New(newSQLite(t, true)), server.WithExport(export.New(storage)))

	w := doJSON(t, srv, http.MethodPost, "/api/export-guide", map[string]any{
		"gameName":  "Hades",
		"guideType": "walkthrough",
		"platform":  "PC",
		"guide":     "# Hades Walkthrough",
	})
	gt.Equal(t, w.Code, http.StatusCreated)
	var resp struct {
		Key string `json:"key"`
	}
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))

	for _, prefix := range []string{"", "/api"} {
		w = doJSON(t, srv, http.MethodGet, prefix+"/export-guide/"+resp.Key, nil)
		gt.Equal(t, w.Code, http.StatusOK)
		gt.S(t, w.Header().Get("Content-Type")).Contains("text/markdown")
		gt.S(t, w.Body.String()).Contains("# Hades Walkthrough")
	}

	w = doJSON(t, srv, http.MethodGet, "/export-guide/guides/hades/walkthrough-pc-20000101T000000Z.md", nil)
	gt.Equal(t, w.Code, http.StatusNotFound)

	w = doJSON(t, srv, http.MethodGet, "/export-guide/other/notes.txt", nil)
	gt.Equal(t, w.Code, http.StatusBadRequest)
}

func TestGetExportedGuide_NotConfigured(t *testing.T) {
	srv := server.New(guide.New(nil), history.New(newSQLite(t, true)))

	w := doJSON(t, srv, http.MethodGet, "/export-guide/guides/hades/walkthrough-pc-20000101T000000Z.md", nil)
	gt.Equal(t, w.Code, http.StatusServiceUnavailable)
}

func TestExportGuide_NotConfigured(t *testing.T) {
	srv := server.New(guide.New(nil), history.New(newSQLite(t, true)))

	w := doJSON(t, srv, http.MethodPost, "/export-guide", map[string]string{
		"gameName": "GTA V", "guideType": "cheat sheet", "platform": "PC", "guide": "# Cheats",
	})
	gt.Equal(t, w.Code, http.StatusServiceUnavailable)
}

func TestHealth(t *testing.T) {
	srv := server.New(guide.New(groundedGemini()), history.New(newSQLite(t, true)))

	w := doJSON(t, srv, http.MethodGet, "/health", nil)
	gt.Equal(t, w.Code, http.StatusOK)

	var body map[string]any
	gt.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	gt.Equal(t, body["gemini"], any(true))
	gt.Equal(t, body["export"], any(false))
}

func TestMCPEndpoint(t *testing.T) {
	guideUC := guide.New(groundedGemini())
	historyUC := history.New(newSQLite(t, true))
	svc, err := mcp.New(guideUC, historyUC, "test")
	gt.NoError(t, err)

	ts := httptest.NewServer(server.New(guideUC, historyUC, server.WithMCP(svc.HTTPHandler())))
	defer ts.Close()

	ctx := context.Background()
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "0.0.1"}, nil)
	session, err := client.Connect(ctx, &mcpsdk.StreamableClientTransport{Endpoint: ts.URL + "/mcp"}, nil)
	gt.NoError(t, err)
	defer session.Close()

	result, err := session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name: mcp.ToolGenerateGuide,
		Arguments: map[string]any{
			"gameName":  "GTA V",
			"guideType": "cheat sheet",
			"platform":  "PC",
		},
	})
	gt.NoError(t, err)
	gt.False(t, result.IsError)
}
