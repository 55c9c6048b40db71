// Package registry maps project ids to their directories in
// <home>/registry.json.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/fsutil"
)

// FileName is the registry file inside the specflow home.
const FileName = "registry.json"

// Project is one registered project.
type Project struct {
	Path         string    `json:"path"`
	Name         string    `json:"name"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
}

// Settings holds registry-wide options.
type Settings struct {
	DevFolders []string `json:"dev_folders"`
}

// Document is the on-disk registry.
type Document struct {
	Projects map[string]Project `json:"projects"`
	Config   Settings           `json:"config"`
}

// Entry pairs a project with its id.
type Entry struct {
	ID string `json:"id"`
	Project
}

func emptyDocument() *Document {
	return &Document{
		Projects: map[string]Project{},
		Config:   Settings{DevFolders: []string{"~/dev"}},
	}
}

// Registry reads and writes the registry file. Methods are safe for
// concurrent use within one process.
type Registry struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New returns a Registry backed by path.
func New(path string) *Registry {
	return &Registry{path: path, now: time.Now}
}

// Path returns the registry file path.
func (r *Registry) Path() string {
	return r.path
}

// Read loads the registry. A missing or corrupt file reads as empty.
func (r *Registry) Read() (*Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read()
}

func (r *Registry) read() (*Document, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return emptyDocument(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}

	doc := emptyDocument()
	if err := json.Unmarshal(data, doc); err != nil {
		return emptyDocument(), nil
	}
	if doc.Projects == nil {
		doc.Projects = map[string]Project{}
	}
	return doc, nil
}

func (r *Registry) write(doc *Document) error {
	return fsutil.WriteJSONAtomic(r.path, doc)
}

// Register adds or refreshes a project and returns its id. An existing entry
// for the same path keeps its id; an empty id is generated.
func (r *Registry) Register(id, name, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve project path: %w", err)
	}
	if name == "" {
		name = filepath.Base(abs)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return "", err
	}
	now := r.now().UTC()

	if id == "" {
		if existing, ok := findByPath(doc, abs); ok {
			id = existing
		} else {
			id = uuid.New().String()
		}
	}
	p, ok := doc.Projects[id]
	if !ok {
		p.RegisteredAt = now
	}
	p.Path = abs
	p.Name = name
	p.LastSeen = now
	doc.Projects[id] = p

	if err := r.write(doc); err != nil {
		return "", err
	}
	return id, nil
}

// Lookup returns the project registered under id.
func (r *Registry) Lookup(id string) (Project, error) {
	doc, err := r.Read()
	if err != nil {
		return Project{}, err
	}
	p, ok := doc.Projects[id]
	if !ok {
		return Project{}, errs.NotFound("project " + id).
			WithHint(`run "specflow state init" in the project directory to register it`)
	}
	return p, nil
}

// FindByPath returns the id of the project at path.
func (r *Registry) FindByPath(path string) (string, bool, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false, fmt.Errorf("resolve project path: %w", err)
	}
	doc, err := r.Read()
	if err != nil {
		return "", false, err
	}
	id, ok := findByPath(doc, abs)
	return id, ok, nil
}

func findByPath(doc *Document, abs string) (string, bool) {
	for id, p := range doc.Projects {
		if p.Path == abs {
			return id, true
		}
	}
	return "", false
}

// Touch updates a project's last_seen.
func (r *Registry) Touch(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return err
	}
	p, ok := doc.Projects[id]
	if !ok {
		return errs.NotFound("project " + id)
	}
	p.LastSeen = r.now().UTC()
	doc.Projects[id] = p
	return r.write(doc)
}

// Remove unregisters a project.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc, err := r.read()
	if err != nil {
		return err
	}
	if _, ok := doc.Projects[id]; !ok {
		return errs.NotFound("project " + id)
	}
	delete(doc.Projects, id)
	return r.write(doc)
}

// List returns all projects sorted by name, then id.
func (r *Registry) List() ([]Entry, error) {
	doc, err := r.Read()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(doc.Projects))
	for id, p := range doc.Projects {
		out = append(out, Entry{ID: id, Project: p})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
