package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"cineai/internal/domain"
	"cineai/internal/domain/model"
	"cineai/internal/infra/logging"
	"cineai/internal/usecase"
)

type avatarRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	PhotoURLs   []string `json:"photo_urls"`
	Quality     string   `json:"quality"`
}

type voiceRequest struct {
	Script  string `json:"script"`
	VoiceID string `json:"voice_id"`
	Model   string `json:"model"`
}

type sceneBody struct {
	SceneID     string `json:"scene_id"`
	Prompt      string `json:"prompt"`
	Script      string `json:"script"`
	AvatarID    string `json:"avatar_id"`
	VoiceID     string `json:"voice_id"`
	Model       string `json:"model"`
	DurationSec int    `json:"duration_sec"`
	Resolution  string `json:"resolution"`
	Quality     string `json:"quality"`
}

type projectRequest struct {
	Scenes []sceneBody `json:"scenes"`
	Output struct {
		Resolution string            `json:"resolution"`
		Quality    string            `json:"quality"`
		Metadata   map[string]string `json:"metadata"`
	} `json:"output"`
}

type projectAccepted struct {
	ProjectID     string `json:"project_id"`
	AssemblyJobID string `json:"assembly_job_id"`
}

func (s *Server) handleSubmitAvatar(w http.ResponseWriter, r *http.Request) {
	var req avatarRequest
	if err := decode(r, avatarBody, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.gen.SubmitAvatar(r.Context(), logging.UserID(r.Context()), chi.URLParam(r, "id"), model.GenerationRequest{
		Name:        req.Name,
		Description: req.Description,
		PhotoURLs:   req.PhotoURLs,
		Quality:     req.Quality,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job.Status())
}

func (s *Server) handleSubmitVoice(w http.ResponseWriter, r *http.Request) {
	var req voiceRequest
	if err := decode(r, voiceBody, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	job, err := s.gen.SubmitVoice(r.Context(), logging.UserID(r.Context()), chi.URLParam(r, "id"), model.GenerationRequest{
		Script:  req.Script,
		VoiceID: req.VoiceID,
		Model:   req.Model,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job.Status())
}

func (s *Server) handleSubmitProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decode(r, projectBody, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	projectID := chi.URLParam(r, "id")
	sub := usecase.ProjectSubmission{
		ProjectID: projectID,
		UserID:    logging.UserID(r.Context()),
		Scenes:    make([]usecase.SceneRequest, 0, len(req.Scenes)),
		Output: model.GenerationRequest{
			Resolution: req.Output.Resolution,
			Quality:    req.Output.Quality,
			Metadata:   req.Output.Metadata,
		},
	}
	for _, sc := range req.Scenes {
		sub.Scenes = append(sub.Scenes, usecase.SceneRequest{
			SceneID: sc.SceneID,
			Input: model.GenerationRequest{
				Prompt:      sc.Prompt,
				Script:      sc.Script,
				AvatarID:    sc.AvatarID,
				VoiceID:     sc.VoiceID,
				Model:       sc.Model,
				DurationSec: sc.DurationSec,
				Resolution:  sc.Resolution,
				Quality:     sc.Quality,
			},
		})
	}
	assemblyID, err := s.gen.SubmitProject(r.Context(), sub)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, projectAccepted{ProjectID: projectID, AssemblyJobID: assemblyID})
}

func (s *Server) handleRetryProject(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	assemblyID, err := s.gen.RetryProject(r.Context(), logging.UserID(r.Context()), projectID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, projectAccepted{ProjectID: projectID, AssemblyJobID: assemblyID})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.gen.JobStatus(r.Context(), logging.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	owner := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if owner == "" {
		s.fail(w, r, fmt.Errorf("%w: owner_id is required", domain.ErrInvalidArgument))
		return
	}
	jobs, err := s.gen.ListJobs(r.Context(), logging.UserID(r.Context()), owner)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner_id": owner, "jobs": jobs})
}

func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.gen.RetryJob(r.Context(), logging.UserID(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job.Status())
}
