package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/QYUbit/Axon/internal/game"
	"github.com/QYUbit/Axon/pkg/action"
	"github.com/QYUbit/Axon/pkg/sbin"
	"github.com/QYUbit/Axon/pkg/typeid"
)

func TestPrintBatch(t *testing.T) {
	names := typeid.NewTable()
	if err := game.Claim(names); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	payload, err := sbin.Marshal(game.Position{X: 1, Y: 2, R: 3})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	data := action.Encode(
		action.Record{Kind: action.Spawn, Entity: 7, Type: typeid.Of[game.Player]()},
		action.Record{Kind: action.Change, Entity: 7, Type: typeid.Of[game.Position](), Payload: payload},
		action.Record{Kind: action.Despawn, Entity: 7, Type: 42},
	)
	data = append(data, 0xff)

	var out bytes.Buffer
	p := &printer{out: &out, names: names}
	p.printBatch(data)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("Expected 4 lines, got %d:\n%s", len(lines), out.String())
	}
	if !strings.HasPrefix(lines[0], "spawn") || !strings.Contains(lines[0], "Player") {
		t.Errorf("Expected spawn of Player, got %q", lines[0])
	}
	if !strings.Contains(lines[1], "Position") || !strings.Contains(lines[1], "X:1") {
		t.Errorf("Expected decoded position, got %q", lines[1])
	}
	if !strings.Contains(lines[2], "type=#42") {
		t.Errorf("Expected unnamed type id, got %q", lines[2])
	}
	if !strings.HasPrefix(lines[3], "  !") {
		t.Errorf("Expected malformed marker, got %q", lines[3])
	}
}
