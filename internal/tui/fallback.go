package tui

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/specflow/specflow/internal/questions"
)

// Ask collects answers for qs, with the picker on a terminal and with
// line prompts otherwise. ok is false when the user quit the picker.
func Ask(qs []questions.Question, in io.Reader, out io.Writer) (answers map[string]string, ok bool, err error) {
	if !IsTTY() {
		answers, err = PromptAnswers(in, out, qs)
		return answers, err == nil, err
	}
	final, err := Run(NewAnswerModel(qs))
	if err != nil {
		return nil, false, err
	}
	m := final.(AnswerModel)
	return m.Answers(), !m.Cancelled(), nil
}

// PromptAnswers asks each question on out and reads one line per question
// from in. A line holding an option number picks that option (several
// comma-separated numbers for multi-select questions); any other text is
// the answer itself; an empty line skips the question. Input ending early
// returns the answers read so far.
func PromptAnswers(in io.Reader, out io.Writer, qs []questions.Question) (map[string]string, error) {
	answers := map[string]string{}
	scanner := bufio.NewScanner(in)

	for _, q := range qs {
		fmt.Fprintf(out, "[%s] %s\n", q.ID, q.Content)
		for i, o := range q.Options {
			if o.Description != "" {
				fmt.Fprintf(out, "  %d. %s - %s\n", i+1, o.Label, o.Description)
			} else {
				fmt.Fprintf(out, "  %d. %s\n", i+1, o.Label)
			}
		}
		fmt.Fprint(out, "> ")

		if !scanner.Scan() {
			fmt.Fprintln(out)
			return answers, scanner.Err()
		}
		if v := resolveAnswer(q, strings.TrimSpace(scanner.Text())); v != "" {
			answers[q.ID] = v
		}
	}
	return answers, nil
}

func resolveAnswer(q questions.Question, line string) string {
	if line == "" || len(q.Options) == 0 {
		return line
	}
	parts := []string{line}
	if q.MultiSelect {
		parts = strings.Split(line, ",")
	}
	labels := make([]string, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 1 || n > len(q.Options) {
			return line
		}
		labels = append(labels, q.Options[n-1].Label)
	}
	return strings.Join(labels, ", ")
}
