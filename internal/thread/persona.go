package thread

import (
	"fmt"
	"strings"
)

// Persona preambles. The system message is rebuilt on mode switches from
// the thread's stored title and context, so switching modes never touches
// the message history.

const developerPreamble = `You are quill, a documentation assistant embedded in the user's editor.
Answer precisely and technically. Assume the reader is a developer: use
correct terminology, reference concrete identifiers, and keep answers
short unless asked to elaborate.`

const beginnerPreamble = `You are quill, a documentation assistant embedded in the user's editor.
Explain things step by step for a reader who is new to the subject. Avoid
jargon, define terms on first use, and prefer worked examples.`

const generalPreamble = `You are quill, a general-purpose documentation assistant embedded in the
user's editor. Help with writing, structuring, and improving project
documentation.`

// maxContextChars bounds the document excerpt embedded in the preamble.
const maxContextChars = 8000

// BuildSystemMessage composes the persona preamble for a document thread.
func BuildSystemMessage(title, contextText string, mode Mode) string {
	preamble := developerPreamble
	if mode == ModeBeginner {
		preamble = beginnerPreamble
	}

	var sb strings.Builder
	sb.WriteString(preamble)
	sb.WriteString(fmt.Sprintf("\n\nThe conversation concerns the document %q.", title))
	if text := strings.TrimSpace(contextText); text != "" {
		if len(text) > maxContextChars {
			text = text[:maxContextChars]
		}
		sb.WriteString("\n\nCurrent document content:\n")
		sb.WriteString(text)
	}
	return sb.String()
}

// GeneralSystemMessage returns the fixed preamble for the general thread.
func GeneralSystemMessage() string {
	return generalPreamble
}
