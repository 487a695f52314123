// Package web serves the JSON API and the HTML UI of the link
// reconciliation service.
package web

import (
	"bytes"
	"fmt"
	"hash/fnv"
	"html/template"
	"log"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	cmr "github.com/sunshinekyo/Common-Metadata-Repository"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/config"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/granule"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/links"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/repo"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/store"
	"github.com/sunshinekyo/Common-Metadata-Repository/internal/tasks"
)

// previewCacheSize is the number of dry-run merge results kept in memory.
const previewCacheSize = 256

type ServerOptions struct {
	Addr    string // E.g., "localhost:8080"
	BaseDir string // Directory from which resources (templates etc.) are read. Embedded copies are used if empty.
	Version string // Build version shown in the UI footer.
}

type Server struct {
	opts     ServerOptions
	template *template.Template
	helpText string

	mu   sync.RWMutex // guards repo
	repo *repo.Repository

	st       store.Store
	rules    *config.LinkRules
	tasks    tasks.Store
	previews *lru.Cache[string, *preview]
}

func NewServer(opts ServerOptions, rp *repo.Repository, st store.Store, rules *config.LinkRules, taskStore tasks.Store) (*Server, error) {
	if rules == nil {
		rules = &config.LinkRules{}
	}
	if taskStore == nil {
		taskStore = tasks.NewEmptyStore()
	}
	previews, err := lru.New[string, *preview](previewCacheSize)
	if err != nil {
		return nil, err
	}
	s := &Server{
		opts:     opts,
		repo:     rp,
		st:       st,
		rules:    rules,
		tasks:    taskStore,
		previews: previews,
	}
	if err := s.reloadTemplates(); err != nil {
		return nil, err
	}
	if err := s.loadHelp(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) reloadTemplates() error {
	tmpl := template.New("root")
	tmpl = tmpl.Funcs(map[string]any{
		"granuleURL":    granuleURL,
		"collectionURL": collectionURL,
		"urlencode":     urlencode,
		"markdown":      markdown,
	})
	var err error
	if s.opts.BaseDir == "" {
		s.template, err = tmpl.ParseFS(cmr.Files, "templates/*.html")
	} else {
		s.template, err = tmpl.ParseGlob(path.Join(s.opts.BaseDir, "templates/*.html"))
	}
	return err
}

func (s *Server) loadHelp() error {
	var data []byte
	var err error
	if s.opts.BaseDir == "" {
		data, err = cmr.Files.ReadFile("docs/help.md")
	} else {
		data, err = os.ReadFile(path.Join(s.opts.BaseDir, "docs/help.md"))
	}
	if err != nil {
		return fmt.Errorf("failed to read help page: %v", err)
	}
	s.helpText = string(data)
	return nil
}

// currentRepo returns the active repository version. Link updates swap in
// a new version, so handlers must not hold on to it across requests.
func (s *Server) currentRepo() *repo.Repository {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.repo
}

// parseLinks splits and classifies a raw link list and checks it against
// the configured host rules.
func (s *Server) parseLinks(raw string) (*links.UpdateSet, error) {
	set, err := links.Parse(raw, s.rules.Matcher())
	if err != nil {
		return nil, err
	}
	if err := s.rules.AcceptHosts(set); err != nil {
		return nil, err
	}
	return set, nil
}

// updateGranule applies one link update, persists the record through the
// store, and swaps in the updated repository. The outcome is recorded
// under the given task.
func (s *Server) updateGranule(taskID, ur string, set *links.UpdateSet) (tasks.GranuleUpdateStatus, error) {
	status, err := s.applyAndStore(ur, set)
	gs := tasks.GranuleStatus{
		GranuleUR: ur,
		Status:    status,
		UpdatedAt: time.Now().UTC(),
	}
	if err != nil {
		gs.Message = err.Error()
	} else if status == tasks.GranuleSkipped {
		gs.Message = "already up to date"
	}
	if serr := s.tasks.SetGranuleStatus(taskID, gs); serr != nil {
		log.Printf("Failed to record status of %s in task %s: %v", ur, taskID, serr)
	}
	return status, err
}

func (s *Server) applyAndStore(ur string, set *links.UpdateSet) (tasks.GranuleUpdateStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.repo.Granule(ur)
	newRepo, rec, err := s.repo.ApplyLinkUpdate(ur, set)
	if err != nil {
		return tasks.GranuleFailed, err
	}
	if bytes.Equal(old.Data, rec.Data) {
		return tasks.GranuleSkipped, nil
	}
	if err := store.WriteRecord(s.st, rec); err != nil {
		return tasks.GranuleFailed, err
	}
	s.repo = newRepo
	return tasks.GranuleUpdated, nil
}

func (s *Server) completeTask(taskID string) {
	if err := s.tasks.CompleteTask(taskID); err != nil {
		log.Printf("Failed to complete task %s: %v", taskID, err)
	}
}

// preview is a cached dry-run merge result.
type preview struct {
	data   []byte
	format granule.Format
}

func recordVersion(data []byte) string {
	h := fnv.New64a()
	h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}

// previewUpdate runs the merge for a granule without persisting anything.
// Results are cached per granule, link list, and record version.
func (s *Server) previewUpdate(ur, rawLinks string) (*preview, error) {
	rp := s.currentRepo()
	rec := rp.Granule(ur)
	if rec == nil {
		return nil, fmt.Errorf("granule %q: %w", ur, repo.ErrNoSuchGranule)
	}
	key := ur + "\x00" + rawLinks + "\x00" + recordVersion(rec.Data)
	if p, ok := s.previews.Get(key); ok {
		return p, nil
	}
	set, err := s.parseLinks(rawLinks)
	if err != nil {
		return nil, err
	}
	updated, err := rec.ApplyLinks(set, rp.CloudHosts())
	if err != nil {
		return nil, err
	}
	p := &preview{data: updated.Data, format: updated.Format}
	s.previews.Add(key, p)
	return p, nil
}

func (s *Server) serveCollections(w http.ResponseWriter, r *http.Request) {
	rp := s.currentRepo()
	type collectionRow struct {
		Name     string
		Granules int
	}
	rows := []collectionRow{}
	for _, name := range rp.Collections() {
		rows = append(rows, collectionRow{Name: name, Granules: len(rp.GranulesInCollection(name))})
	}
	s.serveHTMLPage(w, r, "collections.html", map[string]any{"Collections": rows})
}

type granuleRow struct {
	UR         string
	Collection string
	Format     string
	Summary    granule.LinkSummary
}

func (s *Server) serveGranules(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	rp := s.currentRepo()

	params := map[string]any{
		"Filter":     q.Get("filter"),
		"Collection": q.Get("collection"),
	}
	var recs []*granule.Record
	if filter := q.Get("filter"); filter != "" {
		var err error
		recs, err = rp.Find(filter)
		if err != nil {
			params["Error"] = err.Error()
		}
	} else if collection, ok := q["collection"]; ok {
		recs = rp.GranulesInCollection(collection[0])
	} else {
		recs = rp.Granules()
	}

	rows := make([]granuleRow, 0, len(recs))
	for _, rec := range recs {
		ls, err := rec.LinkSummary(rp.CloudHosts())
		if err != nil {
			log.Printf("Failed to summarize links of %s: %v", rec.UR, err)
		}
		rows = append(rows, granuleRow{
			UR:         rec.UR,
			Collection: rec.Collection,
			Format:     rec.Format.DisplayName(),
			Summary:    ls,
		})
	}
	params["Granules"] = rows
	s.serveHTMLPage(w, r, "granules.html", params)
}

func (s *Server) serveGranule(w http.ResponseWriter, r *http.Request, ur string) {
	s.renderGranuleDetail(w, r, ur, nil)
}

func (s *Server) renderGranuleDetail(w http.ResponseWriter, r *http.Request, ur string, extra map[string]any) {
	rp := s.currentRepo()
	rec := rp.Granule(ur)
	if rec == nil {
		http.Error(w, "No such granule", http.StatusNotFound)
		return
	}
	classified, other, err := rec.Links(rp.CloudHosts())
	if err != nil {
		http.Error(w, "Failed to classify links", http.StatusInternalServerError)
		log.Printf("Failed to classify links of %s: %v", ur, err)
		return
	}
	params := map[string]any{
		"Granule":    rec,
		"Links":      classified,
		"OtherLinks": other,
	}
	for k, v := range extra {
		params[k] = v
	}
	s.serveHTMLPage(w, r, "granule_detail.html", params)
}

// updateGranuleUI handles the link update form of the granule detail page.
// The preview action renders the merged record without persisting it.
func (s *Server) updateGranuleUI(w http.ResponseWriter, r *http.Request, ur string) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	rawLinks := strings.TrimSpace(r.FormValue("links"))
	if rawLinks == "" {
		s.renderGranuleDetail(w, r, ur, map[string]any{"Error": "no links given"})
		return
	}

	if r.FormValue("action") == "preview" {
		p, err := s.previewUpdate(ur, rawLinks)
		if err != nil {
			s.renderGranuleDetail(w, r, ur, map[string]any{"Error": err.Error(), "LinksInput": rawLinks})
			return
		}
		rec := s.currentRepo().Granule(ur)
		s.serveHTMLPage(w, r, "preview.html", map[string]any{
			"Granule":    rec,
			"Preview":    string(p.data),
			"LinksInput": rawLinks,
		})
		return
	}

	set, err := s.parseLinks(rawLinks)
	if err != nil {
		s.renderGranuleDetail(w, r, ur, map[string]any{"Error": err.Error(), "LinksInput": rawLinks})
		return
	}
	task := tasks.NewTask("update " + ur)
	if err := s.tasks.CreateTask(task); err != nil {
		http.Error(w, "Failed to create task", http.StatusInternalServerError)
		log.Printf("Failed to create task: %v", err)
		return
	}
	status, err := s.updateGranule(task.ID, ur, set)
	s.completeTask(task.ID)
	if err != nil {
		s.renderGranuleDetail(w, r, ur, map[string]any{"Error": err.Error(), "LinksInput": rawLinks})
		return
	}
	s.renderGranuleDetail(w, r, ur, map[string]any{
		"Result": fmt.Sprintf("%s (task %s)", status, task.ID),
	})
}

func (s *Server) serveTasks(w http.ResponseWriter, r *http.Request) {
	ts, err := s.tasks.ListTasks()
	if err != nil {
		http.Error(w, "Failed to list tasks", http.StatusInternalServerError)
		log.Printf("Failed to list tasks: %v", err)
		return
	}
	s.serveHTMLPage(w, r, "tasks.html", map[string]any{"Tasks": ts})
}

func (s *Server) serveTask(w http.ResponseWriter, r *http.Request, taskID string) {
	task, err := s.tasks.GetTask(taskID)
	if err != nil {
		http.Error(w, "Failed to read task", http.StatusInternalServerError)
		log.Printf("Failed to read task %s: %v", taskID, err)
		return
	}
	if task == nil {
		http.Error(w, "No such task", http.StatusNotFound)
		return
	}
	statuses, err := s.tasks.GranuleStatuses(taskID)
	if err != nil {
		http.Error(w, "Failed to read task statuses", http.StatusInternalServerError)
		log.Printf("Failed to read statuses of task %s: %v", taskID, err)
		return
	}
	s.serveHTMLPage(w, r, "task_detail.html", map[string]any{
		"Task":     task,
		"Statuses": statuses,
	})
}

func (s *Server) serveHelp(w http.ResponseWriter, r *http.Request) {
	s.serveHTMLPage(w, r, "help.html", map[string]any{"HelpText": s.helpText})
}

func (s *Server) serveHTMLPage(w http.ResponseWriter, r *http.Request, templateFile string, params map[string]any) {
	var output bytes.Buffer

	nav := NewNavBar(
		NavItem("/ui/collections", "Collections"),
		NavItem("/ui/granules", "Granules").Params("collection", "filter"),
		NavItem("/ui/tasks", "Tasks"),
		NavItem("/ui/help", "Help"),
	).SetActive(r.URL.Path).SetParams(r.URL.Query())

	templateParams := map[string]any{
		"Now":     time.Now().Format("2006-01-02 15:04:05"),
		"NavBar":  nav,
		"Version": s.opts.Version,
	}
	// Copy template params
	for k, v := range params {
		templateParams[k] = v
	}

	err := s.template.ExecuteTemplate(&output, templateFile, templateParams)
	if err != nil {
		log.Printf("Failed to render template %q: %v", templateFile, err)
		http.Error(w, "Template rendering error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=UTF-8")
	w.Write(output.Bytes())
}

func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// JSON API
	mux.HandleFunc("GET /api/granules", func(w http.ResponseWriter, r *http.Request) {
		s.handleListGranules(w, r)
	})
	mux.HandleFunc("GET /api/granules/{ur}", func(w http.ResponseWriter, r *http.Request) {
		s.handleGetGranule(w, r, r.PathValue("ur"))
	})
	mux.HandleFunc("POST /api/granules/{ur}/links", func(w http.ResponseWriter, r *http.Request) {
		s.handleUpdateLinks(w, r, r.PathValue("ur"))
	})
	mux.HandleFunc("GET /api/granules/{ur}/preview", func(w http.ResponseWriter, r *http.Request) {
		s.handlePreview(w, r, r.PathValue("ur"))
	})
	mux.HandleFunc("GET /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		s.handleListTasks(w, r)
	})
	mux.HandleFunc("POST /api/tasks", func(w http.ResponseWriter, r *http.Request) {
		s.handleBulkUpdate(w, r)
	})
	mux.HandleFunc("GET /api/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.handleGetTask(w, r, r.PathValue("id"))
	})

	// UI pages
	mux.HandleFunc("GET /ui/collections", func(w http.ResponseWriter, r *http.Request) {
		s.serveCollections(w, r)
	})
	mux.HandleFunc("GET /ui/granules", func(w http.ResponseWriter, r *http.Request) {
		s.serveGranules(w, r)
	})
	mux.HandleFunc("GET /ui/granules/{ur}", func(w http.ResponseWriter, r *http.Request) {
		s.serveGranule(w, r, r.PathValue("ur"))
	})
	mux.HandleFunc("POST /ui/granules/{ur}/links", func(w http.ResponseWriter, r *http.Request) {
		s.updateGranuleUI(w, r, r.PathValue("ur"))
	})
	mux.HandleFunc("GET /ui/tasks", func(w http.ResponseWriter, r *http.Request) {
		s.serveTasks(w, r)
	})
	mux.HandleFunc("GET /ui/tasks/{id}", func(w http.ResponseWriter, r *http.Request) {
		s.serveTask(w, r, r.PathValue("id"))
	})
	mux.HandleFunc("GET /ui/help", func(w http.ResponseWriter, r *http.Request) {
		s.serveHelp(w, r)
	})

	// Health check. Useful for cloud deployments.
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "OK")
	})

	// Static resources (CSS etc.)
	if s.opts.BaseDir == "" {
		mux.Handle("GET /static/", http.FileServer(http.FS(cmr.Files)))
	} else {
		staticFS := http.Dir(path.Join(s.opts.BaseDir, "static"))
		mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(staticFS)))
	}

	// Default route (all other paths): redirect to the UI home page
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "", http.StatusBadRequest)
			return
		}
		refererURL, err := url.Parse(r.Header.Get("Referer"))
		if err == nil && refererURL.Host == r.Host {
			// Request is coming from our own domain: this indicates an internal broken link.
			http.Error(w, "Broken link", http.StatusNotFound)
			return
		}
		// Redirect GET to the UI home page.
		http.Redirect(w, r, "/ui/collections", http.StatusTemporaryRedirect)
	})

	return mux
}

// Serve starts the HTTP server on s.opts.Addr using the wrapped handler.
func (s *Server) Serve() error {
	handler := s.Handler()
	log.Printf("Go server listening on http://%s", s.opts.Addr)
	return http.ListenAndServe(s.opts.Addr, handler)
}

func (s *Server) Handler() http.Handler {
	return s.withRequestLogging(s.routes())
}
