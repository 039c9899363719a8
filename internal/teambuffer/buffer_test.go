package teambuffer

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/beamcode/beamcode/internal/unified"
)

func toolUseMsg(id, name string, input any) unified.Message {
	raw, _ := json.Marshal(input)
	m := unified.New(unified.TypeAssistant, unified.RoleAssistant)
	m.Content = []unified.ContentBlock{{ToolUse: &unified.ToolUseBlock{ID: id, Name: name, Input: raw}}}
	return m
}

func toolResultMsg(toolUseID string, isError bool) unified.Message {
	m := unified.New(unified.TypeUserMessage, unified.RoleTool)
	m.Content = []unified.ContentBlock{{ToolResult: &unified.ToolResultBlock{ToolUseID: toolUseID, Content: "ok", IsError: isError}}}
	return m
}

func TestBufferCorrelatesCreateThenJoin(t *testing.T) {
	b := New()

	team := b.Observe(toolUseMsg("u1", ToolTeamCreate, map[string]string{"name": "alpha", "role": "lead"}), nil)
	if team != nil {
		t.Fatalf("expected nil until correlated, got %+v", team)
	}

	team = b.Observe(toolResultMsg("u1", false), nil)
	if team == nil || team.Name != "alpha" {
		t.Fatalf("expected team alpha after correlation, got %+v", team)
	}

	team2 := b.Observe(toolUseMsg("u2", ToolTeamJoin, map[string]string{"member": "bob"}), team)
	team2 = b.Observe(toolResultMsg("u2", false), team2)
	if team2 == nil || len(team2.Members) != 1 || team2.Members[0] != "bob" {
		t.Fatalf("expected member bob added, got %+v", team2)
	}
}

func TestBufferIgnoresErrorResults(t *testing.T) {
	b := New()
	b.Observe(toolUseMsg("u1", ToolTeamCreate, map[string]string{"name": "alpha"}), nil)
	team := b.Observe(toolResultMsg("u1", true), nil)
	if team != nil {
		t.Fatalf("expected no team created from an error result, got %+v", team)
	}
}

func TestBufferPrunesAfterTTL(t *testing.T) {
	b := New()
	clock := time.Now()
	b.now = func() time.Time { return clock }

	b.Observe(toolUseMsg("u1", ToolTeamCreate, map[string]string{"name": "alpha"}), nil)
	if b.PendingCount() != 1 {
		t.Fatalf("expected 1 pending call")
	}

	clock = clock.Add(31 * time.Second)
	b.Observe(unified.New(unified.TypeKeepAlive, unified.RoleSystem), nil)
	if b.PendingCount() != 0 {
		t.Fatalf("expected pending call pruned after TTL, got %d", b.PendingCount())
	}
}

func TestBufferDeleteResetsTeam(t *testing.T) {
	b := New()
	b.Observe(toolUseMsg("u1", ToolTeamCreate, map[string]string{"name": "alpha"}), nil)
	team := b.Observe(toolResultMsg("u1", false), nil)

	b.Observe(toolUseMsg("u2", ToolTeamDelete, map[string]string{}), team)
	team = b.Observe(toolResultMsg("u2", false), team)
	if team != nil {
		t.Fatalf("expected team deleted, got %+v", team)
	}
}
