package handlers

import (
	"fmt"
	"strings"

	"github.com/sokinpui/chatapply/internal/llm"
)

const systemPrompt = `You are a precise code editing engine.
You receive the current content of one file and a change description, which may be a partial snippet, a fragment with placeholders such as "// ... rest unchanged", or a unified diff.
Return the COMPLETE updated file with the change applied. Keep every unrelated line exactly as it is.
Output only the file content: no explanations, no markdown code fences, no XML wrappers.`

// buildMessages renders the request for one file. The current content is
// wrapped in CDATA so that the model sees exact boundaries.
func buildMessages(path, current string, exists bool, fragment, instruction string) []llm.Message {
	var sb strings.Builder

	if exists {
		fmt.Fprintf(&sb, "<file path=\"%s\">\n<![CDATA[\n%s\n]]>\n</file>\n\n", path, strings.TrimRight(current, "\n"))
	} else {
		fmt.Fprintf(&sb, "The file %s does not exist yet. Create it.\n\n", path)
	}

	fmt.Fprintf(&sb, "<change>\n%s\n</change>\n", strings.TrimRight(fragment, "\n"))

	if instruction = strings.TrimSpace(instruction); instruction != "" {
		fmt.Fprintf(&sb, "\n<context>\n%s\n</context>\n", instruction)
	}
	sb.WriteString("\nReturn the full updated content of " + path + ".")

	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: sb.String()},
	}
}
