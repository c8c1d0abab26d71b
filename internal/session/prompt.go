package session

import (
	"fmt"
	"strings"

	"conclave/internal/vote"
)

// buildRoundPrompt assembles the prompt for a round. The first round uses
// the session prompt verbatim; later rounds append a summary of the
// previous round's disagreement so agents can defend or switch positions.
func buildRoundPrompt(base string, round int, candidates []vote.Candidate) string {
	if round <= 1 || len(candidates) == 0 {
		return base
	}

	var sb strings.Builder

	sb.WriteString("## Task\n\n")
	sb.WriteString(base)
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "## Previous Round Disagreement (round %d)\n\n", round-1)
	sb.WriteString("The agents did not reach consensus. The candidate positions were:\n\n")
	for _, c := range candidates {
		fmt.Fprintf(&sb, "### %s (supported by %s)\n\n", c.Decision, strings.Join(c.Supporting, ", "))
		if c.Excerpt != "" {
			sb.WriteString(c.Excerpt)
			sb.WriteString("\n\n")
		}
	}

	sb.WriteString("## Instructions\n\n")
	sb.WriteString("Consider the positions above. Either defend your previous answer with new reasoning or switch to a better-supported one. ")
	sb.WriteString("State your final answer on a line starting with DECISION:")

	return sb.String()
}
