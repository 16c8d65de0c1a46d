package service

import (
	"fmt"
	"strings"

	"github.com/xxxsen/jarvis/internal/ai"
	"github.com/xxxsen/jarvis/internal/model"
)

const systemPrompt = `You are Jarvis, a helpful AI assistant. You have access to a knowledge base through vector search.

Key traits:
- Be concise and helpful
- Use the provided context to answer questions accurately
- If you don't know something from the context, say so clearly
- Be conversational but professional
- Focus on being useful and actionable

When provided with context from the knowledge base, use it to inform your responses. If the context is not relevant to the question, acknowledge this and provide a general response based on your training.`

// buildMessages assembles the chat prompt: system preamble, the most recent
// history pairs, then the user question with retrieved passages prepended.
// When retrieval came back empty the question is sent bare, with no passage
// framing at all.
func buildMessages(question string, passages []*model.ScoredChunk, history []ai.Message, maxPairs int) []ai.Message {
	msgs := make([]ai.Message, 0, len(history)+2)
	msgs = append(msgs, ai.Message{Role: ai.RoleSystem, Content: systemPrompt})

	if max := maxPairs * 2; max > 0 && len(history) > max {
		history = history[len(history)-max:]
	}
	msgs = append(msgs, history...)

	msgs = append(msgs, ai.Message{Role: ai.RoleUser, Content: buildUserPrompt(question, passages)})
	return msgs
}

func buildUserPrompt(question string, passages []*model.ScoredChunk) string {
	if len(passages) == 0 {
		return question
	}
	var sb strings.Builder
	sb.WriteString("\n--- Relevant Information from Knowledge Base ---\n")
	for i, p := range passages {
		fmt.Fprintf(&sb, "%d. (Similarity: %.3f) %s\n", i+1, p.Similarity, p.Content)
	}
	sb.WriteString("--- End of Relevant Information ---\n")
	fmt.Fprintf(&sb, "\nUser question: %s", question)
	return sb.String()
}
