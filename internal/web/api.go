package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/sunshinekyo/Common-Metadata-Repository/internal/granule"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/links"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/repo"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/tasks"
)

// JSON shapes of the API.

type linkSummaryJSON struct {
	OnPrem bool `json:"onPrem"`
	Cloud  bool `json:"cloud"`
	S3     bool `json:"s3"`
}

type granuleSummaryJSON struct {
	GranuleUR  string          `json:"granuleUr"`
	Collection string          `json:"collection,omitempty"`
	Format     string          `json:"format"`
	Links      linkSummaryJSON `json:"links"`
}

type linkJSON struct {
	URL      string `json:"url"`
	Category string `json:"category"`
}

type granuleDetailJSON struct {
	GranuleUR  string     `json:"granuleUr"`
	Collection string     `json:"collection,omitempty"`
	Format     string     `json:"format"`
	Links      []linkJSON `json:"links"`
	OtherLinks []string   `json:"otherLinks,omitempty"`
}

type updateLinksRequest struct {
	Links string `json:"links"`
}

type updateLinksResponse struct {
	GranuleUR string                    `json:"granuleUr"`
	Status    tasks.GranuleUpdateStatus `json:"status"`
	TaskID    string                    `json:"taskId"`
}

type bulkUpdateRequest struct {
	Name   string `json:"name"`
	Links  string `json:"links"`
	Filter string `json:"filter,omitempty"`
}

type bulkUpdateResponse struct {
	Task     tasks.Task `json:"task"`
	Granules int        `json:"granules"`
	Updated  int        `json:"updated"`
	Failed   int        `json:"failed"`
	Skipped  int        `json:"skipped"`
}

type taskDetailJSON struct {
	Task     tasks.Task            `json:"task"`
	Granules []tasks.GranuleStatus `json:"granules"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode JSON response: %v", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// httpStatusFor maps domain errors to HTTP status codes.
func httpStatusFor(err error) int {
	var verr *links.ValidationError
	if errors.As(err, &verr) {
		return http.StatusBadRequest
	}
	if errors.Is(err, repo.ErrNoSuchGranule) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func (s *Server) handleListGranules(w http.ResponseWriter, r *http.Request) {
	rp := s.currentRepo()
	recs, err := rp.Find(r.URL.Query().Get("filter"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	summaries := make([]granuleSummaryJSON, 0, len(recs))
	for _, rec := range recs {
		ls, err := rec.LinkSummary(rp.CloudHosts())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		summaries = append(summaries, granuleSummaryJSON{
			GranuleUR:  rec.UR,
			Collection: rec.Collection,
			Format:     rec.Format.DisplayName(),
			Links:      linkSummaryJSON{OnPrem: ls.OnPrem, Cloud: ls.Cloud, S3: ls.S3},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"granules": summaries})
}

func (s *Server) handleGetGranule(w http.ResponseWriter, r *http.Request, ur string) {
	rp := s.currentRepo()
	rec := rp.Granule(ur)
	if rec == nil {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no such granule %q", ur))
		return
	}
	classified, other, err := rec.Links(rp.CloudHosts())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	detail := granuleDetailJSON{
		GranuleUR:  rec.UR,
		Collection: rec.Collection,
		Format:     rec.Format.DisplayName(),
		Links:      make([]linkJSON, 0, len(classified)),
		OtherLinks: other,
	}
	for _, l := range classified {
		detail.Links = append(detail.Links, linkJSON{URL: l.URL, Category: string(l.Category)})
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleUpdateLinks(w http.ResponseWriter, r *http.Request, ur string) {
	var req updateLinksRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Links) == "" {
		writeJSONError(w, http.StatusBadRequest, "no links given")
		return
	}
	if s.currentRepo().Granule(ur) == nil {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no such granule %q", ur))
		return
	}
	set, err := s.parseLinks(req.Links)
	if err != nil {
		writeJSONError(w, httpStatusFor(err), err.Error())
		return
	}

	task := tasks.NewTask("update " + ur)
	if err := s.tasks.CreateTask(task); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create task")
		log.Printf("Failed to create task: %v", err)
		return
	}
	status, err := s.updateGranule(task.ID, ur, set)
	s.completeTask(task.ID)
	if err != nil {
		writeJSONError(w, httpStatusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updateLinksResponse{
		GranuleUR: ur,
		Status:    status,
		TaskID:    task.ID,
	})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request, ur string) {
	rawLinks := r.URL.Query().Get("links")
	if rawLinks == "" {
		writeJSONError(w, http.StatusBadRequest, "missing links parameter")
		return
	}
	p, err := s.previewUpdate(ur, rawLinks)
	if err != nil {
		writeJSONError(w, httpStatusFor(err), err.Error())
		return
	}
	if p.format == granule.FormatUMMG {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "application/xml")
	}
	w.Write(p.data)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	ts, err := s.tasks.ListTasks()
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to list tasks")
		log.Printf("Failed to list tasks: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": ts})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := s.tasks.GetTask(taskID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to read task")
		log.Printf("Failed to read task %s: %v", taskID, err)
		return
	}
	if task == nil {
		writeJSONError(w, http.StatusNotFound, fmt.Sprintf("no such task %q", taskID))
		return
	}
	statuses, err := s.tasks.GranuleStatuses(taskID)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to read task statuses")
		log.Printf("Failed to read statuses of task %s: %v", taskID, err)
		return
	}
	writeJSON(w, http.StatusOK, taskDetailJSON{Task: *task, Granules: statuses})
}

// handleBulkUpdate applies one link list to every granule matching the
// filter. The update runs synchronously; per-granule outcomes are recorded
// under a new task.
func (s *Server) handleBulkUpdate(w http.ResponseWriter, r *http.Request) {
	var req bulkUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(req.Links) == "" {
		writeJSONError(w, http.StatusBadRequest, "no links given")
		return
	}
	set, err := s.parseLinks(req.Links)
	if err != nil {
		writeJSONError(w, httpStatusFor(err), err.Error())
		return
	}
	recs, err := s.currentRepo().Find(req.Filter)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	name := req.Name
	if name == "" {
		name = "bulk link update"
	}
	task := tasks.NewTask(name)
	if err := s.tasks.CreateTask(task); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to create task")
		log.Printf("Failed to create task: %v", err)
		return
	}

	resp := bulkUpdateResponse{Granules: len(recs)}
	for _, rec := range recs {
		status, err := s.updateGranule(task.ID, rec.UR, set)
		switch status {
		case tasks.GranuleUpdated:
			resp.Updated++
		case tasks.GranuleSkipped:
			resp.Skipped++
		case tasks.GranuleFailed:
			resp.Failed++
		}
		if err != nil {
			log.Printf("Task %s: update of %s failed: %v", task.ID, rec.UR, err)
		}
	}
	s.completeTask(task.ID)
	task.Status = tasks.StatusComplete
	resp.Task = task
	writeJSON(w, http.StatusOK, resp)
}
