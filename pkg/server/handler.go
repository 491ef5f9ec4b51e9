package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/m-mizutani/playbot/pkg/model"
	"github.com/m-mizutani/playbot/pkg/usecase/history"
	"github.com/m-mizutani/playbot/pkg/utils/logging"
)

type generateGuideRequest struct {
	GameName  string `json:"gameName"`
	GuideType string `json:"guideType"`
	Platform  string `json:"platform"`
}

func (x generateGuideRequest) missing() bool {
	return strings.TrimSpace(x.GameName) == "" || x.GuideType == "" || x.Platform == ""
}

func (x generateGuideRequest) toModel() (model.GuideRequest, error) {
	guideType, err := model.ParseGuideType(x.GuideType)
	if err != nil {
		return model.GuideRequest{}, err
	}
	platform, err := model.ParsePlatform(x.Platform)
	if err != nil {
		return model.GuideRequest{}, err
	}
	return model.GuideRequest{
		GameName:  strings.TrimSpace(x.GameName),
		GuideType: guideType,
		Platform:  platform,
	}, nil
}

func (s *Server) handleGenerateGuide(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Without credentials no request is attempted at all
	if !s.guide.Configured() {
		logging.From(ctx).Error("gemini API key is not set on the server")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Server configuration error: Missing API Key."})
		return
	}

	var body generateGuideRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, "Invalid request", err)
		return
	}
	if body.missing() {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing required fields: gameName, guideType, platform"})
		return
	}

	req, err := body.toModel()
	if err != nil {
		writeError(w, r, "Invalid request", err)
		return
	}

	result, err := s.guide.Generate(ctx, req)
	if err != nil {
		writeError(w, r, "Failed to get a response from the AI.", err)
		return
	}

	if s.autoSave {
		s.history.RecordAsync(ctx, history.RecordInput{
			GameName:  req.GameName,
			GuideType: req.GuideType,
			Platform:  req.Platform,
			Guide:     result.Guide,
		})
	}

	writeJSON(w, http.StatusOK, result)
}

type saveHistoryRequest struct {
	generateGuideRequest
	Guide string `json:"guide"`
}

func (s *Server) handleSaveHistory(w http.ResponseWriter, r *http.Request) {
	var body saveHistoryRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, "Invalid request", err)
		return
	}
	if body.missing() || body.Guide == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing required fields"})
		return
	}

	req, err := body.toModel()
	if err != nil {
		writeError(w, r, "Invalid request", err)
		return
	}

	if _, err := s.history.Record(r.Context(), history.RecordInput{
		GameName:  req.GameName,
		GuideType: req.GuideType,
		Platform:  req.Platform,
		Guide:     body.Guide,
	}); err != nil {
		writeError(w, r, "Failed to save history", err)
		return
	}

	writeJSON(w, http.StatusCreated, messageResponse{Message: "History saved"})
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	items, err := s.history.ListRecent(r.Context(), history.MaxRecent)
	if err != nil {
		writeError(w, r, "Failed to fetch history", err)
		return
	}
	if items == nil {
		items = []*model.HistoryItem{}
	}
	writeJSON(w, http.StatusOK, items)
}

type exportGuideRequest struct {
	saveHistoryRequest
	References []model.Reference `json:"references"`
}

type exportGuideResponse struct {
	Key string `json:"key"`
}

func (s *Server) handleExportGuide(w http.ResponseWriter, r *http.Request) {
	if !s.export.Configured() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Export storage is not configured"})
		return
	}

	var body exportGuideRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, "Invalid request", err)
		return
	}
	if body.missing() || body.Guide == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Missing required fields"})
		return
	}

	req, err := body.toModel()
	if err != nil {
		writeError(w, r, "Invalid request", err)
		return
	}

	key, err := s.export.Export(r.Context(), req, &model.GuideResult{
		Guide:      body.Guide,
		References: body.References,
	})
	if err != nil {
		writeError(w, r, "Failed to export guide", err)
		return
	}

	writeJSON(w, http.StatusCreated, exportGuideResponse{Key: key})
}

func (s *Server) handleGetExportedGuide(w http.ResponseWriter, r *http.Request) {
	if !s.export.Configured() {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Export storage is not configured"})
		return
	}

	key := chi.URLParam(r, "*")
	rc, err := s.export.Open(r.Context(), key)
	if err != nil {
		writeError(w, r, "Failed to read exported guide", err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		logging.From(r.Context()).Warn("failed to send exported guide", "key", key, "error", err)
	}
}
