// Package events names the subjects mcphost publishes on and wires the
// configured event bus.
package events

// Subjects for agent lifecycle events.
const (
	AgentLifecyclePrefix = "agent.lifecycle"

	AgentStarting       = AgentLifecyclePrefix + ".starting"
	AgentStarted        = AgentLifecyclePrefix + ".started"
	AgentFailed         = AgentLifecyclePrefix + ".failed"
	AgentStopping       = AgentLifecyclePrefix + ".stopping"
	AgentStopped        = AgentLifecyclePrefix + ".stopped"
	AgentUnexpectedExit = AgentLifecyclePrefix + ".unexpected_exit"
	AgentPublishFailed  = AgentLifecyclePrefix + ".publish_failed"
)

// BuildAgentLifecycleSubject returns the subject for an event type.
func BuildAgentLifecycleSubject(eventType string) string {
	return AgentLifecyclePrefix + "." + eventType
}

// BuildAgentLifecycleWildcardSubject matches every lifecycle event.
func BuildAgentLifecycleWildcardSubject() string {
	return AgentLifecyclePrefix + ".*"
}
