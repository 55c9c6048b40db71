package workflow

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/specflow/specflow/internal/errs"
	"github.com/specflow/specflow/internal/event"
	"github.com/specflow/specflow/internal/log"
	"github.com/specflow/specflow/internal/process"
	"github.com/specflow/specflow/internal/questions"
	"github.com/specflow/specflow/internal/runner"
	"github.com/specflow/specflow/internal/store"
)

// StartOptions tunes Start.
type StartOptions struct {
	ProjectID string
	Phase     string
	Args      []string
	// Mode is store.ModeOneShot (default), store.ModeStreaming or
	// store.ModeDetached.
	Mode string
	// OnEvent observes every event of the run.
	OnEvent event.Handler
}

// ResumeOptions tunes Resume.
type ResumeOptions struct {
	OnEvent event.Handler
}

// Start creates an execution and runs the skill until the agent completes,
// fails or asks questions. In detached mode it returns once the agent is
// launched. An unresolvable binary or missing skill fails before any
// execution is created. Agent failures are recorded on the execution, not
// returned.
func (s *Service) Start(ctx context.Context, projectPath, skill string, opts StartOptions) (*store.Execution, error) {
	path, err := absPath(projectPath)
	if err != nil {
		return nil, err
	}
	if skill == "" {
		skill = DefaultSkill
	}
	mode := opts.Mode
	switch mode {
	case "":
		mode = store.ModeOneShot
	case store.ModeOneShot, store.ModeStreaming, store.ModeDetached:
	default:
		return nil, errs.Validation("unknown mode %q", mode)
	}
	if err := s.agent.Preflight(skill); err != nil {
		return nil, err
	}

	projectID := opts.ProjectID
	if projectID == "" {
		projectID = s.projectID(path)
	}

	e := &store.Execution{
		ProjectID:   projectID,
		ProjectPath: path,
		Skill:       skill,
		Mode:        mode,
		Status:      store.StatusRunning,
		Answers:     map[string]string{},
	}
	if mode == store.ModeDetached {
		e.Status = store.StatusDetached
	}
	if err := s.store.Create(e); err != nil {
		return nil, err
	}
	s.transition(e, e.Status, "start")

	// A new run takes over the project's question queue.
	if err := questions.NewStore(path).Reset(e.ID); err != nil {
		e.Error = err.Error()
		s.transition(e, store.StatusFailed, "start")
		if uerr := s.store.Update(e); uerr != nil {
			return nil, uerr
		}
		return e, err
	}

	ropts := runner.Options{Dir: path, Skill: skill, Phase: opts.Phase, Args: opts.Args}
	if mode == store.ModeDetached {
		return s.launchDetached(ctx, e, ropts)
	}
	return s.run(ctx, e, ropts, opts.OnEvent)
}

// Resume records answers for a waiting execution and, once no question is
// left pending, runs the agent again with every answer given so far.
// Answers may also have been recorded directly in the queue; those are
// picked up too. Unknown question ids are rejected and nothing is written.
func (s *Service) Resume(ctx context.Context, id string, answers map[string]string, opts ResumeOptions) (*store.Execution, error) {
	if err := s.acquire(id); err != nil {
		return nil, err
	}
	defer s.release(id)

	e, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if e.Status != store.StatusWaiting {
		return nil, errs.InvalidState("Cannot resume workflow in %s state (expected %s)", e.Status, store.StatusWaiting)
	}

	queue := questions.NewStore(e.ProjectPath)
	owned := queue.Read()
	if owned.WorkflowID != e.ID {
		return nil, errs.InvalidState("question queue belongs to workflow %q, not %s", owned.WorkflowID, e.ID)
	}

	ids := make([]string, 0, len(answers))
	for qid := range answers {
		ids = append(ids, qid)
	}
	sort.Strings(ids)
	for _, qid := range ids {
		q, err := queue.Get(qid)
		if err != nil {
			return nil, err
		}
		if q == nil {
			return nil, errs.Validation("unknown question %q", qid)
		}
		if q.Status == questions.StatusAnswered {
			return nil, errs.InvalidState("question %s already answered", qid)
		}
	}
	for _, qid := range ids {
		if _, err := queue.Answer(qid, answers[qid]); err != nil {
			return nil, err
		}
		s.logEvent(e.ProjectPath, log.LogEvent{Event: log.EventQuestionAnswered, ExecutionID: e.ID, QuestionID: qid})
	}

	for _, q := range queue.Read().Questions {
		if q.Status == questions.StatusAnswered {
			if _, ok := e.Answers[q.ID]; !ok {
				e.Answers[q.ID] = q.Answer
			}
		}
	}

	if pending := queue.Pending(); len(pending) > 0 {
		if len(ids) == 0 {
			return nil, errs.Validation("no answers supplied; %d question(s) pending", len(pending))
		}
		if err := s.store.Update(e); err != nil {
			return nil, err
		}
		return e, nil
	}

	e.Error = ""
	if e.Mode == store.ModeDetached {
		e.Status = store.StatusDetached
	} else {
		e.Status = store.StatusRunning
	}
	if err := s.store.Update(e); err != nil {
		return nil, err
	}
	s.transition(e, e.Status, "resume")

	ropts := runner.Options{Dir: e.ProjectPath, Skill: e.Skill, Answers: copyAnswers(e.Answers)}
	if e.Mode == store.ModeDetached {
		return s.launchDetached(ctx, e, ropts)
	}
	return s.run(ctx, e, ropts, opts.OnEvent)
}

// run drives one blocking agent invocation and settles the execution.
func (s *Service) run(ctx context.Context, e *store.Execution, ropts runner.Options, onEvent event.Handler) (*store.Execution, error) {
	c := s.newCollector(e, onEvent)
	ropts.RunDir = process.RunDir(e.ProjectPath, e.ID)

	started := time.Now()
	var (
		res *runner.Result
		err error
	)
	if e.Mode == store.ModeStreaming {
		res, err = s.agent.RunStreaming(ctx, ropts, c.handle)
	} else {
		res, err = s.agent.Run(ctx, ropts, c.handle)
	}
	s.metrics.Run(e.Mode, err == nil && res != nil && res.Success, time.Since(started))

	// A cancel that landed while the agent ran wins over its result.
	if cur, gerr := s.store.Get(e.ID); gerr == nil && cur.Status == store.StatusCancelled {
		c.apply(e)
		e.Status = cur.Status
		e.CompletedAt = cur.CompletedAt
		if res != nil {
			e.EventsEmitted += res.EventsEmitted
			e.CostUSD += res.CostUSD
		}
		if uerr := s.store.Update(e); uerr != nil {
			return nil, uerr
		}
		return e, nil
	}

	if err != nil {
		e.Error = err.Error()
		s.transition(e, store.StatusFailed, "agent")
		if uerr := s.store.Update(e); uerr != nil {
			return nil, uerr
		}
		return e, err
	}

	s.settle(e, res, c)
	if err := s.store.Update(e); err != nil {
		return nil, err
	}
	return e, nil
}

// settle applies a finished run to e.
func (s *Service) settle(e *store.Execution, res *runner.Result, c *collector) {
	c.apply(e)
	if res.SessionID != "" {
		e.SessionID = res.SessionID
	}
	e.CostUSD += res.CostUSD
	e.EventsEmitted += res.EventsEmitted
	if res.Output != nil && res.Output.Phase != "" {
		e.CurrentPhase = res.Output.Phase
	}
	e.PID = 0

	pending := questions.NewStore(e.ProjectPath).Pending()
	switch {
	case !res.Success:
		e.Error = res.Error
		if e.Error == "" {
			e.Error = "agent run failed"
		}
		s.transition(e, store.StatusFailed, "agent")
	case res.Output != nil && res.Output.Status == runner.OutputError:
		e.Error = res.Output.Message
		if e.Error == "" {
			e.Error = "agent reported an error"
		}
		s.transition(e, store.StatusFailed, "agent")
	case len(pending) > 0:
		e.Error = ""
		s.transition(e, store.StatusWaiting, "questions")
	case res.Output != nil && res.Output.Status == runner.OutputNeedsInput && c.questions == 0:
		e.Error = "agent requested input but asked no new questions"
		s.transition(e, store.StatusFailed, "agent")
	default:
		e.Error = ""
		s.transition(e, store.StatusCompleted, "agent")
	}
}

// collector routes a run's events to the event log, the question queue and
// the caller, and remembers what the execution needs to know.
type collector struct {
	mu        sync.Mutex
	execID    string
	queue     *questions.Store
	events    *log.EventLog
	onEvent   event.Handler
	answered  map[string]bool
	phase     string
	artifacts []string
	questions int
	handle    event.Handler
}

func (s *Service) newCollector(e *store.Execution, onEvent event.Handler) *collector {
	c := &collector{
		execID:   e.ID,
		queue:    questions.NewStore(e.ProjectPath),
		onEvent:  onEvent,
		answered: map[string]bool{},
	}
	for qid := range e.Answers {
		c.answered[qid] = true
	}
	if el, err := log.NewEventLog(process.RunDir(e.ProjectPath, e.ID)); err == nil {
		c.events = el
	}
	c.handle = s.metrics.Observe(c.receive)
	return c
}

func (c *collector) receive(ev event.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.events != nil {
		_ = c.events.Append(ev)
	}

	switch d := ev.Data.(type) {
	case event.QuestionQueuedData:
		c.enqueue(d)
	case event.PhaseStartedData:
		if d.Phase != "" && d.Phase != "workflow" {
			c.phase = d.Phase
		}
	case event.ArtifactCreatedData:
		c.artifacts = append(c.artifacts, d.Path)
	}

	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

// enqueue adds a question unless it was already answered in an earlier
// cycle or is already pending; the agent sees prior answers in its prompt.
func (c *collector) enqueue(d event.QuestionQueuedData) {
	if c.answered[d.ID] {
		return
	}
	if existing, err := c.queue.Get(d.ID); err == nil && existing != nil {
		return
	}
	if _, err := c.queue.Add(c.execID, questions.DraftFromEvent(d)); err == nil {
		c.questions++
	}
}

func (c *collector) apply(e *store.Execution) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.phase != "" {
		e.CurrentPhase = c.phase
	}
	for _, a := range c.artifacts {
		if !slices.Contains(e.Artifacts, a) {
			e.Artifacts = append(e.Artifacts, a)
		}
	}
}

func copyAnswers(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// PendingQuestions returns the unanswered questions of an execution.
func (s *Service) PendingQuestions(id, projectID string) ([]questions.Question, error) {
	e, err := s.Get(id, projectID)
	if err != nil {
		return nil, err
	}
	queue := questions.NewStore(e.ProjectPath)
	if queue.Read().WorkflowID != e.ID {
		return []questions.Question{}, nil
	}
	return queue.Pending(), nil
}

// Answer records one answer in the execution's queue without resuming.
func (s *Service) Answer(id, projectID, questionID, answer string) (*questions.Question, error) {
	e, err := s.Get(id, projectID)
	if err != nil {
		return nil, err
	}
	queue := questions.NewStore(e.ProjectPath)
	if owner := queue.Read().WorkflowID; owner != e.ID {
		return nil, errs.InvalidState("question queue belongs to workflow %q, not %s", owner, e.ID)
	}
	q, err := queue.Answer(questionID, answer)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, errs.NotFound(fmt.Sprintf("Question %s", questionID))
	}
	s.logEvent(e.ProjectPath, log.LogEvent{Event: log.EventQuestionAnswered, ExecutionID: e.ID, QuestionID: questionID})
	return q, nil
}
