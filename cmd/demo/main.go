// Command demo wires every package in this module into one runnable agent
// loop: an Anthropic-backed model client, a Calc gadget validated by a JSON
// Schema, the scheduler, an in-memory engine, and a tree
// snapshot persisted to an in-memory store, grounded on goa-ai's
// cmd/demo/main.go wiring shape.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"goa.design/clue/log"

	"github.com/relayforge/gadgetloop/engine/inmem"
	"github.com/relayforge/gadgetloop/exec"
	"github.com/relayforge/gadgetloop/gadget"
	"github.com/relayforge/gadgetloop/loop"
	"github.com/relayforge/gadgetloop/model"
	"github.com/relayforge/gadgetloop/persist"
	persistinmem "github.com/relayforge/gadgetloop/persist/inmem"
	"github.com/relayforge/gadgetloop/providers/anthropic"
	"github.com/relayforge/gadgetloop/schema"
	"github.com/relayforge/gadgetloop/tree"
)

const calcSchemaJSON = `{
	"type": "object",
	"properties": {
		"op": {"type": "string", "enum": ["add", "sub"]},
		"a": {"type": "integer"},
		"b": {"type": "integer"}
	},
	"required": ["op", "a", "b"]
}`

type calcGadget struct{ validator schema.Validator }

func (calcGadget) Name() gadget.Name          { return "Calc" }
func (calcGadget) Description() string        { return "adds or subtracts two integers" }
func (g calcGadget) Schema() schema.Validator  { return g.validator }
func (calcGadget) Timeout() int                { return 2000 }

func (calcGadget) Execute(_ context.Context, _ *gadget.Ctx, params map[string]any) (string, error) {
	a, _ := params["a"].(int64)
	b, _ := params["b"].(int64)
	switch params["op"] {
	case "add":
		return fmt.Sprintf("%d", a+b), nil
	case "sub":
		return fmt.Sprintf("%d", a-b), nil
	default:
		return "", fmt.Errorf("unknown op %v", params["op"])
	}
}

func main() {
	apiKeyF := flag.String("anthropic-api-key", os.Getenv("ANTHROPIC_API_KEY"), "Anthropic API key")
	modelF := flag.String("model", "claude-sonnet-4-5", "model identifier")
	promptF := flag.String("prompt", "what is 2 plus 2? Use the Calc gadget.", "initial user message")
	flag.Parse()

	ctx := log.Context(context.Background(), log.WithFormat(log.FormatTerminal))
	if *apiKeyF == "" {
		log.Fatalf(ctx, fmt.Errorf("anthropic API key is required"), "missing credentials")
	}

	client, err := anthropic.NewFromAPIKey(*apiKeyF, *modelF)
	if err != nil {
		log.Fatalf(ctx, err, "build anthropic client")
	}

	compiled, err := schema.Compile([]byte(calcSchemaJSON))
	if err != nil {
		log.Fatalf(ctx, err, "compile calc schema")
	}

	registry := gadget.NewRegistry()
	if err := registry.Register(calcGadget{validator: compiled}); err != nil {
		log.Fatalf(ctx, err, "register calc gadget")
	}

	policy := gadget.NewApprovalPolicy(gadget.ApprovalAllowed)
	executor := exec.New(registry, policy)

	t := tree.New()
	conversation := []*model.Message{{Role: model.RoleUser, Text: *promptF}}

	l := loop.New(t, conversation, loop.Config{
		Client:         client,
		Model:          *modelF,
		Registry:       registry,
		Policy:         policy,
		Executor:       executor,
		TextOnlyPolicy: loop.TextOnlyTerminate,
		MaxIterations:  10,
	})

	eng := inmem.New()
	result, err := eng.Run(ctx, l)
	if err != nil {
		log.Fatalf(ctx, err, "run agent loop")
	}
	log.Print(ctx, log.KV{K: "iterations", V: result.Iterations}, log.KV{K: "ended_because", V: result.EndedBecause})

	store := persistinmem.New()
	snap := persist.Capture("demo-run", t)
	if err := store.Save(ctx, snap); err != nil {
		log.Fatalf(ctx, err, "persist snapshot")
	}
	fmt.Printf("captured %d nodes for run %s\n", len(snap.Nodes), snap.RunID)
}
