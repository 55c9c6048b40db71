// Package questions implements the per-project question queue: a single JSON
// document of pending and answered questions owned by one workflow at a time.
package questions

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/event"
	"github.com/specflow/specflow/internal/fsutil"
)

// QueuePath is the queue file location relative to the project root.
const QueuePath = ".specify/questions.json"

// Status of a queued question.
type Status string

const (
	StatusPending  Status = "pending"
	StatusAnswered Status = "answered"
)

// Question is one unit of required human input.
type Question struct {
	ID          string         `json:"id"`
	Content     string         `json:"content"`
	Header      string         `json:"header,omitempty"`
	Options     []event.Option `json:"options"`
	MultiSelect bool           `json:"multiSelect"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"createdAt"`
	AnsweredAt  *time.Time     `json:"answeredAt,omitempty"`
	Answer      string         `json:"answer,omitempty"`
}

// Draft is the caller-supplied part of a question; the store fills in status
// and timestamps.
type Draft struct {
	ID          string
	Content     string
	Header      string
	Options     []event.Option
	MultiSelect bool
}

// DraftFromEvent converts a question_queued payload into a Draft.
func DraftFromEvent(q event.QuestionQueuedData) Draft {
	return Draft{
		ID:          q.ID,
		Content:     q.Content,
		Header:      q.Header,
		Options:     q.Options,
		MultiSelect: q.MultiSelect,
	}
}

// Queue is the on-disk document.
type Queue struct {
	WorkflowID string     `json:"workflowId"`
	Questions  []Question `json:"questions"`
}

// Store reads and writes the queue for one project.
type Store struct {
	path string
	now  func() time.Time
}

// NewStore returns a Store for the project rooted at projectPath.
func NewStore(projectPath string) *Store {
	return &Store{
		path: filepath.Join(projectPath, QueuePath),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Path returns the queue file path.
func (s *Store) Path() string {
	return s.path
}

// Read loads the queue. A missing or corrupt file yields an empty queue:
// the queue is a convenience cache, not the source of truth.
func (s *Store) Read() Queue {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return Queue{Questions: []Question{}}
	}
	var q Queue
	if err := json.Unmarshal(data, &q); err != nil || !q.valid() {
		return Queue{Questions: []Question{}}
	}
	if q.Questions == nil {
		q.Questions = []Question{}
	}
	return q
}

func (q Queue) valid() bool {
	for _, question := range q.Questions {
		if question.ID == "" {
			return false
		}
		if question.Status != StatusPending && question.Status != StatusAnswered {
			return false
		}
	}
	return true
}

// Write replaces the queue document.
func (s *Store) Write(q Queue) error {
	if q.Questions == nil {
		q.Questions = []Question{}
	}
	if err := fsutil.WriteJSONAtomic(s.path, q); err != nil {
		return fmt.Errorf("writing question queue: %w", err)
	}
	return nil
}

// Add appends a pending question and makes workflowID the queue owner.
func (s *Store) Add(workflowID string, d Draft) (Question, error) {
	q := s.Read()
	q.WorkflowID = workflowID

	options := d.Options
	if options == nil {
		options = []event.Option{}
	}
	question := Question{
		ID:          d.ID,
		Content:     d.Content,
		Header:      d.Header,
		Options:     options,
		MultiSelect: d.MultiSelect,
		Status:      StatusPending,
		CreatedAt:   s.now(),
	}
	q.Questions = append(q.Questions, question)

	if err := s.Write(q); err != nil {
		return Question{}, err
	}
	return question, nil
}

// Get returns the question with the given id, or nil if there is none.
func (s *Store) Get(id string) (*Question, error) {
	q := s.Read()
	for i := range q.Questions {
		if q.Questions[i].ID == id {
			found := q.Questions[i]
			return &found, nil
		}
	}
	return nil, nil
}

// Answer records an answer. Returns nil, nil for an unknown id and an
// InvalidState error if the question was already answered.
func (s *Store) Answer(id, answer string) (*Question, error) {
	q := s.Read()
	for i := range q.Questions {
		question := &q.Questions[i]
		if question.ID != id {
			continue
		}
		if question.Status == StatusAnswered {
			return nil, errs.InvalidState("question %s already answered", id)
		}
		now := s.now()
		question.Status = StatusAnswered
		question.AnsweredAt = &now
		question.Answer = answer

		if err := s.Write(q); err != nil {
			return nil, err
		}
		answered := *question
		return &answered, nil
	}
	return nil, nil
}

// Pending returns the unanswered questions in queue order.
func (s *Store) Pending() []Question {
	q := s.Read()
	pending := []Question{}
	for _, question := range q.Questions {
		if question.Status == StatusPending {
			pending = append(pending, question)
		}
	}
	return pending
}

// Clear resets the queue to empty with no owner.
func (s *Store) Clear() error {
	return s.Write(Queue{Questions: []Question{}})
}

// Reset empties the queue and hands ownership to workflowID.
func (s *Store) Reset(workflowID string) error {
	return s.Write(Queue{WorkflowID: workflowID, Questions: []Question{}})
}

var whitespace = regexp.MustCompile(`\s+`)

// QuestionID derives a stable id: the lowercased header with whitespace runs
// replaced by underscores, or q{index+1} when there is no header.
func QuestionID(header string, index int) string {
	if strings.TrimSpace(header) == "" {
		return fmt.Sprintf("q%d", index+1)
	}
	return whitespace.ReplaceAllString(strings.ToLower(strings.TrimSpace(header)), "_")
}

// AssignIDs computes ids for a batch of question headers. A header-derived
// id that repeats an earlier one in the batch falls back to the positional id.
func AssignIDs(headers []string) []string {
	ids := make([]string, len(headers))
	seen := make(map[string]bool, len(headers))
	for i, h := range headers {
		id := QuestionID(h, i)
		if seen[id] {
			id = QuestionID("", i)
		}
		seen[id] = true
		ids[i] = id
	}
	return ids
}
