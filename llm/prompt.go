package llm

import (
	"fmt"
	"strings"
	"time"

	"github.com/erikv05/oversea/types"
)

// BuildSystemPrompt assembles the system prompt for a turn from the agent
// record plus the dynamic context its flags enable.
func BuildSystemPrompt(agent types.AgentRecord, now time.Time, callerInfo string) string {
	var b strings.Builder

	if agent.SystemPrompt != "" {
		b.WriteString(agent.SystemPrompt)
	} else {
		b.WriteString("You are a conversational voice assistant. Be concise and natural.")
	}

	if agent.Tone != "" {
		fmt.Fprintf(&b, "\n\nTone: %s.", agent.Tone)
	}

	if agent.Knowledge != "" {
		b.WriteString("\n\nReference knowledge:\n")
		b.WriteString(agent.Knowledge)
		if agent.GuardrailsEnabled {
			b.WriteString("\n\nOnly answer questions covered by the reference knowledge above. " +
				"If the answer is not covered, say you cannot help with that.")
		}
	}

	if agent.CurrentDateEnabled {
		loc := time.UTC
		if agent.Timezone != "" {
			if parsed, err := time.LoadLocation(agent.Timezone); err == nil {
				loc = parsed
			}
		}
		fmt.Fprintf(&b, "\n\nCurrent date and time: %s.", now.In(loc).Format("Monday, January 2, 2006 3:04 PM MST"))
	}

	if agent.CallerInfoEnabled && callerInfo != "" {
		fmt.Fprintf(&b, "\n\nCaller: %s.", callerInfo)
	}

	b.WriteString("\n\nYour replies are spoken aloud. Keep them short and do not use markup or lists.")

	return b.String()
}
