// Package llm holds what the answer generators share.
package llm

import (
	"fmt"
	"strings"
)

const instruction = "Answer the question based on the context provided above. " +
	"If the answer cannot be found in the context, say so. " +
	"Cite which document(s) you used in your answer."

// BuildPrompt embeds the context snippets, labelled [Document 1], [Document 2]
// and so on in the order given, ahead of the question. Without context the
// question is sent as is.
func BuildPrompt(question string, context []string) string {
	if len(context) == 0 {
		return question
	}
	docs := make([]string, len(context))
	for i, text := range context {
		docs[i] = fmt.Sprintf("[Document %d]: %s", i+1, text)
	}
	var b strings.Builder
	b.WriteString("Context from knowledge base:\n")
	b.WriteString(strings.Join(docs, "\n\n"))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\n")
	b.WriteString(instruction)
	return b.String()
}
