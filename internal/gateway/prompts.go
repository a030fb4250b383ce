package gateway

import (
	"fmt"
	"strings"

	"github.com/scrypster/buddy/pkg/types"
)

// historyWindow is how many trailing messages of conversation context are
// sent with each default-path request.
const historyWindow = 10

// buildSystemInstruction synthesizes the persona prompt from the user's
// name and tone, a bulleted digest of all stored memories, and the static
// capability manifest.
func buildSystemInstruction(settings types.UserSettings, memories []types.Memory) string {
	memoryContext := memoryDigest(memories)
	if memoryContext == "" {
		memoryContext = "None initialized."
	}

	return fmt.Sprintf(`You are Buddy, a world-class AI companion with advanced skill matrices.
Current User: %s
Persona: %s
Memories: %s

CAPABILITY OVERVIEW:
1. Practical/Technical: System architecture, regex, advanced code debugging, unit conversions.
2. Language/Cognitive: Emotional intelligence, style-transfer, linguistic analysis, logic puzzles.
3. Spatial Intelligence: Mapping and place discovery using googleMaps.
4. Neural Grounding: Real-time search for news and validated facts.
5. Socratic Teaching: If the user asks for help learning something, use Socratic questioning to guide them rather than giving immediate answers.

Always respond with high clarity, citing sources where available.`,
		settings.Name, settings.Tone, memoryContext)
}

// memoryDigest renders every memory as "- [tags] content", one per line.
func memoryDigest(memories []types.Memory) string {
	if len(memories) == 0 {
		return ""
	}
	lines := make([]string, 0, len(memories))
	for _, m := range memories {
		lines = append(lines, fmt.Sprintf("- [%s] %s", strings.Join(m.Tags, ", "), m.Content))
	}
	return strings.Join(lines, "\n")
}

// buildContents converts the trailing history window plus the new prompt
// into role-tagged backend contents. Assistant turns map to the "model"
// role.
func buildContents(history []types.Message, prompt string) []Content {
	if len(history) > historyWindow {
		history = history[len(history)-historyWindow:]
	}

	contents := make([]Content, 0, len(history)+1)
	for _, msg := range history {
		role := "user"
		if msg.Role == types.RoleAssistant {
			role = "model"
		}
		contents = append(contents, Content{Role: role, Parts: []Part{{Text: msg.Content}}})
	}
	return append(contents, Content{Role: "user", Parts: []Part{{Text: prompt}}})
}

// planPrompt asks for a structured roadmap as strict JSON.
func planPrompt(prompt string) string {
	return fmt.Sprintf(`Create a structured plan for: %q.
Output ONLY a JSON object with this schema:
{"title": string, "steps": [{"task": string, "detail": string, "importance": "high"|"med"|"low"}]}`, prompt)
}

// factPrompt asks for at most one memorable fact as strict JSON, with the
// "NONE" sentinel meaning nothing worth remembering.
func factPrompt(text string) string {
	return fmt.Sprintf(`Extract ONE fact from: %q. JSON format: {"fact": string, "tags": string[]}. If none, return {"fact": "NONE"}.`, text)
}

// voiceSystemInstruction is the short persona prompt for live audio
// sessions.
func voiceSystemInstruction(settings types.UserSettings) string {
	return fmt.Sprintf("You are Buddy. Speaker: %s. Tone: %s. Stay helpful and conversational.",
		settings.Name, settings.Tone)
}
