package tui

// AnswerMsg carries the answer chosen for one question.
type AnswerMsg struct {
	QuestionID string
	Value      string
}

// SkipMsg leaves the current question unanswered.
type SkipMsg struct{}
