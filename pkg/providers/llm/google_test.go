package llm

import (
	"context"
	"testing"

	"github.com/lokutor-ai/voxrelay/pkg/orchestrator"
)

func TestConvertGoogleMessagesSplitsSystemInstruction(t *testing.T) {
	messages := []orchestrator.Message{
		{Role: orchestrator.RoleSystem, Content: "be concise"},
		{Role: orchestrator.RoleUser, Content: "hi"},
		{Role: orchestrator.RoleAssistant, Content: "hello"},
	}
	contents, sys := convertGoogleMessages(messages)
	if sys != "be concise" {
		t.Errorf("expected system instruction extracted, got %q", sys)
	}
	if len(contents) != 2 {
		t.Fatalf("expected 2 contents (system excluded), got %d", len(contents))
	}
}

func TestConvertGoogleToolsBuildsSchema(t *testing.T) {
	tools := []orchestrator.ToolSchema{
		{
			Name:        "get_weather",
			Description: "fetch weather",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"city": map[string]interface{}{"type": "string", "description": "city name"},
				},
				"required": []interface{}{"city"},
			},
		},
	}
	decls := convertGoogleTools(tools)
	if len(decls) != 1 {
		t.Fatalf("expected 1 declaration, got %d", len(decls))
	}
	if decls[0].Name != "get_weather" {
		t.Errorf("expected name get_weather, got %s", decls[0].Name)
	}
	if len(decls[0].Parameters.Required) != 1 || decls[0].Parameters.Required[0] != "city" {
		t.Errorf("expected required=[city], got %v", decls[0].Parameters.Required)
	}
}

func TestMarshalGoogleArgsEmpty(t *testing.T) {
	s, err := marshalGoogleArgs(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s != "{}" {
		t.Errorf("expected empty object, got %s", s)
	}
}

func TestNewGoogleDefaultsModel(t *testing.T) {
	p, err := NewGoogle(context.Background(), "test-key", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.model != "gemini-2.0-flash" {
		t.Errorf("expected default model, got %s", p.model)
	}
	if p.Name() != "google" {
		t.Errorf("expected name google, got %s", p.Name())
	}
}
