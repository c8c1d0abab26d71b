package bus

import "fmt"

// Topic patterns for NATS pub/sub communication.

// TopicSessionEvents carries the ordered event stream of one coordination
// session: session_started, round_started, agent_completed,
// round_aggregated, session_terminal.
func TopicSessionEvents(sessionID string) string {
	return fmt.Sprintf("events.session.%s", sessionID)
}

func TopicAgentInput(agentID string) string {
	return fmt.Sprintf("agent.%s.input", agentID)
}

func TopicAgentOutput(agentID string) string {
	return fmt.Sprintf("agent.%s.output", agentID)
}

func TopicAgentControl(agentID string) string {
	return fmt.Sprintf("agent.%s.control", agentID)
}

const (
	TopicEventsAll       = "events.>"
	TopicEventsSessions  = "events.session.*"
	TopicEventsScheduler = "events.scheduler"
)
