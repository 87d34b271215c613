package marker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// safeText generates free text guaranteed not to contain any marker prefix,
// so it is unambiguously forwarded verbatim (spec.md §8 marker round-trip law).
func safeText() gopter.Gen {
	return gen.SliceOfN(8, gen.OneConstOf("hello", "world ", "plain\n", "x", " ", "report"), 0, 8).
		Map(func(parts []string) string { return strings.Join(parts, "") })
}

func gadgetName() gopter.Gen {
	return gen.OneConstOf("Calc", "WriteFile", "Search", "Lookup")
}

func argValue() gopter.Gen {
	return gen.OneConstOf("5", "add", "hello", "42", "a value")
}

// block is a single well-formed marker block rendered to its exact wire bytes.
type block struct {
	name  string
	invID string
	arg   string
	val   string
}

func (b block) render() string {
	var sb strings.Builder
	sb.WriteString("!!!GADGET_START:")
	sb.WriteString(b.name)
	if b.invID != "" {
		sb.WriteString(":")
		sb.WriteString(b.invID)
	}
	sb.WriteString("\n")
	if b.arg != "" {
		sb.WriteString("!!!ARG:")
		sb.WriteString(b.arg)
		sb.WriteString("\n")
		sb.WriteString(b.val)
		sb.WriteString("\n")
	}
	sb.WriteString("!!!GADGET_END")
	return sb.String()
}

func blockGen() gopter.Gen {
	return gopter.CombineGens(gadgetName(), gen.OneConstOf("", "req1", "call-2"), gen.OneConstOf("", "op"), argValue()).
		Map(func(vs []interface{}) block {
			return block{name: vs[0].(string), invID: vs[1].(string), arg: vs[2].(string), val: vs[3].(string)}
		})
}

// TestMarkerRoundTripProperty checks spec.md §8's round-trip law: for any
// input built from free text and well-formed blocks, concatenating the
// emitted TextChunk events with the re-rendered GadgetBlock events
// reconstructs the original input.
func TestMarkerRoundTripProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	segments := gen.SliceOfN(5, gopter.CombineGens(safeText(), blockGen()), 1, 5)

	properties.Property("concatenating emitted events reconstructs the original input", prop.ForAll(
		func(segs []interface{}) bool {
			var input strings.Builder
			var blocks []block
			for _, s := range segs {
				pair := s.([]interface{})
				text := pair[0].(string)
				b := pair[1].(block)
				input.WriteString(text)
				input.WriteString(b.render())
				blocks = append(blocks, b)
			}

			p := New(DefaultPrefixes())
			events := append(p.Feed(input.String()), p.Close()...)

			var reconstructed strings.Builder
			blockIdx := 0
			for _, e := range events {
				switch e.Type {
				case EventText:
					reconstructed.WriteString(e.Text)
				case EventGadget:
					if blockIdx >= len(blocks) {
						return false
					}
					want := blocks[blockIdx]
					if e.Gadget.Name != want.name {
						return false
					}
					reconstructed.WriteString(want.render())
					blockIdx++
				}
			}
			if blockIdx != len(blocks) {
				return false
			}
			return reconstructed.String() == input.String()
		},
		segments,
	))

	properties.TestingRun(t)
}

// TestMarkerRoundTripArbitraryChunkSplits checks the law holds regardless of
// how the byte stream is sliced into Feed calls.
func TestMarkerRoundTripArbitraryChunkSplits(t *testing.T) {
	whole := "intro " + (block{name: "Calc", invID: "r1", arg: "op", val: "add"}).render() + " tail"
	for split := 0; split <= len(whole); split++ {
		p := New(DefaultPrefixes())
		events := append(p.Feed(whole[:split]), p.Feed(whole[split:])...)
		events = append(events, p.Close()...)

		var reconstructed strings.Builder
		for _, e := range events {
			switch e.Type {
			case EventText:
				reconstructed.WriteString(e.Text)
			case EventGadget:
				b := block{name: e.Gadget.Name, invID: e.Gadget.InvocationID, arg: "op", val: e.Gadget.ParametersRaw["op"]}
				reconstructed.WriteString(b.render())
			}
		}
		if reconstructed.String() != whole {
			t.Fatalf("split at %d: got %q, want %q", split, reconstructed.String(), whole)
		}
	}
}

func init() {
	// guard against gen collisions between literal prefixes and generated
	// text/arg values tripping up the round-trip law's own test fixtures.
	for _, s := range []string{"hello", "world ", "x"} {
		if strings.Contains(s, "!!!") {
			panic(fmt.Sprintf("fixture %q collides with marker prefix", s))
		}
	}
}
