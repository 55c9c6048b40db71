// answer.go implements "specflow workflow answer" for the project's question queue.
package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/specflow/specflow/internal/event"
	"github.com/specflow/specflow/internal/log"
	"github.com/specflow/specflow/internal/questions"
	"github.com/specflow/specflow/internal/tui"
)

var answerCmd = &cobra.Command{
	Use:   "answer [question-id] [answer]",
	Short: "Answer a queued question",
	Long: `Record an answer for a question queued by the running workflow of the
current project. With no arguments on a terminal the pending questions are
asked interactively. --resume continues the workflow once nothing is pending.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runAnswer,
}

var (
	listFlag        bool
	resumeAfterFlag bool
)

// errAlreadyOutput fails the command after its result was printed.
var errAlreadyOutput = errors.New("already reported")

func init() {
	answerCmd.Flags().BoolVar(&listFlag, "list", false, "List pending questions instead of answering")
	answerCmd.Flags().BoolVar(&resumeAfterFlag, "resume", false, "Resume the workflow when no questions remain")
}

// answerOutput is the JSON shape of one answer attempt.
type answerOutput struct {
	Success      bool   `json:"success"`
	QuestionID   string `json:"questionId"`
	Answer       string `json:"answer,omitempty"`
	Error        string `json:"error,omitempty"`
	PendingCount int    `json:"pendingCount"`
}

// questionListing is the JSON shape of --list.
type questionListing struct {
	Questions []listedQuestion `json:"questions"`
	Count     int              `json:"count"`
}

type listedQuestion struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Options   []event.Option `json:"options"`
	CreatedAt time.Time      `json:"createdAt"`
}

func runAnswer(cmd *cobra.Command, args []string) error {
	root, err := projectRoot()
	if err != nil {
		return err
	}
	queue := questions.NewStore(root)

	if listFlag {
		return listPending(queue)
	}

	if len(args) == 0 && !jsonFlag && tui.IsTTY() {
		if err := answerInteractively(root, queue); err != nil {
			return err
		}
		return maybeResume(cmd, queue)
	}

	var id, answer string
	if len(args) > 0 {
		id = args[0]
	}
	if len(args) > 1 {
		answer = args[1]
	}

	out := answerOne(root, queue, id, answer)
	if jsonFlag {
		if err := printJSON(out); err != nil {
			return err
		}
		if !out.Success {
			return errAlreadyOutput
		}
	} else if !out.Success {
		msg := out.Error
		if strings.HasSuffix(msg, "not found") {
			if pending := queue.Pending(); len(pending) > 0 {
				msg += "\nPending questions: " + strings.Join(pendingIDs(pending), ", ")
			}
		}
		return errors.New(msg)
	} else {
		fmt.Println(tui.SuccessStyle.Render("Answered: " + out.QuestionID))
		fmt.Printf("Answer: %s\n", out.Answer)
		fmt.Printf("Pending questions: %d\n", out.PendingCount)
	}
	return maybeResume(cmd, queue)
}

// answerOne validates and records one answer.
func answerOne(root string, queue *questions.Store, id, answer string) answerOutput {
	fail := func(msg string) answerOutput {
		return answerOutput{QuestionID: id, Error: msg, PendingCount: len(queue.Pending())}
	}
	switch {
	case id == "":
		return answerOutput{Error: "Question ID is required"}
	case answer == "":
		return answerOutput{QuestionID: id, Error: "Answer is required"}
	}

	q, err := queue.Answer(id, answer)
	if err != nil {
		return fail(err.Error())
	}
	if q == nil {
		return fail(fmt.Sprintf("Question %s not found", id))
	}
	logAnswer(root, queue.Read().WorkflowID, id)
	return answerOutput{Success: true, QuestionID: id, Answer: answer, PendingCount: len(queue.Pending())}
}

func logAnswer(root, workflowID, questionID string) {
	logger, err := log.NewLogger(root)
	if err != nil {
		return
	}
	_ = logger.Append(log.LogEvent{
		Event:       log.EventQuestionAnswered,
		ExecutionID: workflowID,
		QuestionID:  questionID,
	})
}

func answerInteractively(root string, queue *questions.Store) error {
	pending := queue.Pending()
	if len(pending) == 0 {
		fmt.Println("No pending questions")
		return nil
	}
	answers, _, err := tui.Ask(pending, os.Stdin, os.Stderr)
	if err != nil {
		return err
	}
	for _, q := range pending {
		a, ok := answers[q.ID]
		if !ok {
			continue
		}
		if out := answerOne(root, queue, q.ID, a); !out.Success {
			return errors.New(out.Error)
		}
		fmt.Printf("Answered %s: %s\n", q.ID, a)
	}
	fmt.Printf("Pending questions: %d\n", len(queue.Pending()))
	return nil
}

// maybeResume resumes the queue's workflow with --resume once every
// question is answered.
func maybeResume(cmd *cobra.Command, queue *questions.Store) error {
	if !resumeAfterFlag || len(queue.Pending()) > 0 {
		return nil
	}
	id := queue.Read().WorkflowID
	if id == "" {
		return nil
	}
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	exec, err := resume(ctx, e.svc, id, nil)
	if err != nil {
		return err
	}
	if jsonFlag {
		// The answer result was already printed.
		return nil
	}
	fmt.Println()
	return reportExecution(exec)
}

func listPending(queue *questions.Store) error {
	pending := queue.Pending()
	if !jsonFlag {
		printQuestions(os.Stdout, pending)
		return nil
	}
	out := questionListing{Questions: make([]listedQuestion, 0, len(pending)), Count: len(pending)}
	for _, q := range pending {
		out.Questions = append(out.Questions, listedQuestion{
			ID: q.ID, Content: q.Content, Options: q.Options, CreatedAt: q.CreatedAt,
		})
	}
	return printJSON(out)
}

func pendingIDs(qs []questions.Question) []string {
	ids := make([]string, len(qs))
	for i, q := range qs {
		ids[i] = q.ID
	}
	return ids
}
