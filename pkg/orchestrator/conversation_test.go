package orchestrator

import "testing"

func TestConversationHistoryInstallSystemPromptOnce(t *testing.T) {
	h := NewConversationHistory(0)
	h.InstallSystemPrompt("be helpful")
	h.InstallSystemPrompt("be different")

	snap := h.Snapshot()
	if len(snap) != 1 || snap[0].Role != RoleSystem || snap[0].Content != "be helpful" {
		t.Fatalf("expected a single system message installed once, got %+v", snap)
	}
}

func TestLastAssistantToolCallsMatchesToolMessageID(t *testing.T) {
	h := NewConversationHistory(0)
	h.AppendUser("what time is it?")

	calls := []ToolCall{{Index: 0, ID: "call_0", Name: "get_current_time", Arguments: "{}"}}
	h.AppendAssistant("", calls)
	h.AppendTool("call_0", `"03:14 PM"`)

	last := h.LastAssistantToolCalls()
	if len(last) != 1 || last[0].ID != "call_0" {
		t.Fatalf("LastAssistantToolCalls = %+v, want the just-appended call_0", last)
	}

	snap := h.Snapshot()
	toolMsg := snap[len(snap)-1]
	if toolMsg.Role != RoleTool || toolMsg.ToolCallID != last[0].ID {
		t.Fatalf("tool message %+v does not reference the preceding assistant call %q", toolMsg, last[0].ID)
	}
}

func TestConversationHistoryTrimKeepsSystemMessage(t *testing.T) {
	h := NewConversationHistory(3)
	h.InstallSystemPrompt("system")
	for i := 0; i < 10; i++ {
		h.AppendUser("hello")
	}

	snap := h.Snapshot()
	if len(snap) != 3 {
		t.Fatalf("expected trim to cap at 3 messages, got %d", len(snap))
	}
	if snap[0].Role != RoleSystem {
		t.Fatalf("expected the system message to survive trimming, got %+v", snap[0])
	}
}
