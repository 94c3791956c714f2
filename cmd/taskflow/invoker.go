package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/taskflow/engine"
)

// scriptedResponse is one canned agent reply loaded from the responses file.
type scriptedResponse struct {
	// Text 回复正文
	Text string `yaml:"text"`
	// Fields 结构化字段（可选）
	Fields map[string]any `yaml:"fields"`
}

// scriptedInvoker replays canned responses keyed by agent ref. Consecutive
// invocations of the same agent consume the list in order; the last entry
// repeats once the list is exhausted. Agents without a script echo their
// instruction, which is enough to dry-run a graph's wiring.
type scriptedInvoker struct {
	mu        sync.Mutex
	responses map[string][]scriptedResponse
	cursors   map[string]int
}

func newScriptedInvoker(path string) (*scriptedInvoker, error) {
	inv := &scriptedInvoker{
		responses: make(map[string][]scriptedResponse),
		cursors:   make(map[string]int),
	}
	if path == "" {
		return inv, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read responses file: %w", err)
	}
	if err := yaml.Unmarshal(data, &inv.responses); err != nil {
		return nil, fmt.Errorf("failed to parse responses file: %w", err)
	}
	return inv, nil
}

// Invoke implements engine.Invoker.
func (inv *scriptedInvoker) Invoke(ctx context.Context, agentRef, instruction string, view *engine.ContextView) (engine.RawOutput, error) {
	if err := ctx.Err(); err != nil {
		return engine.RawOutput{}, err
	}

	inv.mu.Lock()
	script, ok := inv.responses[agentRef]
	if !ok || len(script) == 0 {
		inv.mu.Unlock()
		return engine.RawOutput{Text: echoOutput(agentRef, instruction)}, nil
	}

	idx := inv.cursors[agentRef]
	if idx >= len(script) {
		idx = len(script) - 1
	}
	inv.cursors[agentRef]++
	resp := script[idx]
	inv.mu.Unlock()
	return engine.RawOutput{Text: resp.Text, Fields: resp.Fields}, nil
}

func echoOutput(agentRef, instruction string) string {
	first := instruction
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}
	return fmt.Sprintf("[%s] %s", agentRef, first)
}
