package llm

import (
	"strings"

	"github.com/scrypster/engram/pkg/types"
)

// extractionSystemPrompt instructs the model to extract only durable,
// user-stated facts. Most windows contain nothing memorable; the model is
// told to simply not call the tool in that case.
const extractionSystemPrompt = `You analyze conversations to extract memorable facts about the user.

Only store facts that are:
- Explicitly stated or strongly implied by the USER (not the assistant)
- Worth remembering for future conversations
- Not just conversational filler ("yeah", "okay", "tell me more")
- NEW information not already obvious from context

DO NOT extract:
- The user's name (already known to the system)
- Temporary states like "user is tired" or "user is busy today"
- Things the assistant said or suggested
- Vague statements with no specific facts

Most conversation windows have NOTHING worth storing. That's normal — just respond without calling the tool.

Categories:
- identity: Location, job, family members, age, background (NOT name)
- preference: Likes, dislikes, communication style, explicit requests
- context: Current projects, problems, life events in progress
- relationship: Shared moments, emotional references, inside jokes
- surprise: Unusual or unexpected facts that stand out

Importance scale (1-5):
- 5: Core identity (where they live, what they do, family)
- 4: Important relationships or major life events
- 3: Notable preferences or ongoing situations
- 2: Interesting but not critical details
- 1: Minor details worth noting
`

// storeMemoriesToolName is the function the model calls when it finds facts.
const storeMemoriesToolName = "store_memories"

// storeMemoriesDeclaration builds the function declaration in the Gemini
// API format.
func storeMemoriesDeclaration() geminiFunctionDeclaration {
	return geminiFunctionDeclaration{
		Name: storeMemoriesToolName,
		Description: "Store memorable facts about the user. " +
			"Only call this if there are facts worth remembering. " +
			"Most conversations have nothing memorable — that's fine, " +
			"just don't call this tool.",
		Parameters: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"memories": map[string]interface{}{
					"type":        "array",
					"description": "List of memorable facts to store",
					"items": map[string]interface{}{
						"type": "object",
						"properties": map[string]interface{}{
							"content": map[string]interface{}{
								"type": "string",
								"description": "The fact in third person, e.g. " +
									"'User's brother Mike works at Google'",
							},
							"category": map[string]interface{}{
								"type": "string",
								"enum": []string{"identity", "preference", "context", "relationship", "surprise"},
								"description": "identity=core facts, preference=likes/dislikes, " +
									"context=current projects/problems, " +
									"relationship=emotional moments, " +
									"surprise=unusual/noteworthy",
							},
							"importance": map[string]interface{}{
								"type":        "integer",
								"description": "1-5 scale: 5=core identity, 1=minor detail",
							},
						},
						"required": []string{"content", "category", "importance"},
					},
				},
			},
			"required": []string{"memories"},
		},
	}
}

// FormatWindow renders a conversation window as the prompt text the
// extraction model sees: one "ROLE: content" line per turn.
func FormatWindow(window []types.Turn) string {
	lines := make([]string, len(window))
	for i, turn := range window {
		lines[i] = strings.ToUpper(turn.Role) + ": " + turn.Content
	}
	return strings.Join(lines, "\n")
}
