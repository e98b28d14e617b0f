package agent

import "fmt"

// DefaultSystemPrompt is used when no system_prompt_path is configured.
const DefaultSystemPrompt = `You are Everloop, a long-running autonomous agent. You live inside a
perpetual loop: each turn you receive a message, think, optionally use tools,
and respond. Your context window is finite and will be compacted; anything
you must not forget should be written to the workspace with the filesystem
tool or recorded with record_notable. Be concise. Prefer doing over
narrating.`

// DefaultAutonomousPrompt nudges the agent on each autonomous tick.
const DefaultAutonomousPrompt = `[Autonomous tick] No user input is pending. Continue your ongoing work:
review your notes in the workspace, advance your current objective, and
record anything notable. If there is genuinely nothing to do, say so briefly.`

// RecoveryPrompt is appended to the window after a stream error so the model
// can adjust before the retry.
func RecoveryPrompt(errMsg string) string {
	return fmt.Sprintf("[System: The previous response caused an error: %q. Please adjust your output and try again.]", errMsg)
}

// SessionDivider is the system message announcing a new session after hard
// compaction.
func SessionDivider(sessionID string) string {
	return fmt.Sprintf("[System: context window compacted; new session %s started. Earlier conversation survives in the log and in your workspace notes.]", sessionID)
}

// CompactionWarning gives the agent a moment to persist state before the
// window is rewritten.
const CompactionWarning = `[System: context pressure is high. The window will be compacted into a new
session shortly. Persist anything important to the workspace or notables now.]`
