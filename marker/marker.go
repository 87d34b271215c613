// Package marker implements the incremental streaming parser that extracts
// gadget-call blocks from a token stream while forwarding free text verbatim
// (spec.md §4.1). It is a pure state machine fed chunk by chunk from the
// caller's own stream loop, matching the case-driven incremental chunk
// handling goa-ai's planner stream feeder uses rather than a channel-based
// generator.
package marker

import "strings"

// EventType discriminates the events Feed/Close emit.
type EventType string

const (
	EventText    EventType = "text"
	EventGadget  EventType = "gadget"
	EventEnd     EventType = "end"
)

// EndReason explains why the parser produced an End event.
type EndReason string

const (
	EndNormal    EndReason = "normal"
	EndTruncated EndReason = "truncated"
)

// GadgetCall is the parsed representation of one marker block (spec.md §3.5).
type GadgetCall struct {
	Name           string
	InvocationID   string
	ParametersRaw  map[string]string
	Parameters     map[string]any
	Dependencies   []string
	ParseError     string
}

// Event is one item in the parser's output sequence.
type Event struct {
	Type   EventType
	Text   string
	Gadget GadgetCall
	Reason EndReason
}

// Prefixes configures the three literal marker prefixes (spec.md §4.1). The
// zero value is invalid; use DefaultPrefixes.
type Prefixes struct {
	Start string
	Arg   string
	End   string
}

// DefaultPrefixes returns the standard marker prefixes.
func DefaultPrefixes() Prefixes {
	return Prefixes{Start: "!!!GADGET_START:", Arg: "!!!ARG:", End: "!!!GADGET_END"}
}

type state int

const (
	stateOutside state = iota
	stateInsideArgs
)

// Parser is the incremental marker state machine. Not safe for concurrent
// use; the caller drives it from one chunk loop.
type Parser struct {
	prefixes Prefixes

	state state
	buf    string // unconsumed bytes, held back because they might be a split marker

	name     string
	invID    string
	raw      map[string]string
	order    []string // first-seen arg pointer order, used by buildTree for deterministic assembly
	curPtr   string
	curValue strings.Builder
	haveArg  bool
	prelude  strings.Builder
	sawArg   bool
}

// New constructs a Parser using the given prefixes.
func New(prefixes Prefixes) *Parser {
	return &Parser{prefixes: prefixes, state: stateOutside}
}

// Feed consumes one chunk and returns the events it produces. Chunks may
// split a marker or an arg value arbitrarily; partial markers are held back
// in internal buffer state, never emitted as text.
func (p *Parser) Feed(chunk string) []Event {
	p.buf += chunk
	return p.drain(false)
}

// Close signals end of stream. If a block is open, it emits End{truncated}
// without synthesising a GadgetBlock (spec.md §4.1 edge case).
func (p *Parser) Close() []Event {
	events := p.drain(true)
	if p.state != stateOutside {
		events = append(events, Event{Type: EventEnd, Reason: EndTruncated})
		return events
	}
	if p.buf != "" {
		events = append(events, Event{Type: EventText, Text: p.buf})
		p.buf = ""
	}
	events = append(events, Event{Type: EventEnd, Reason: EndNormal})
	return events
}

// drain processes p.buf as far as it safely can. When final is false, it
// holds back a suffix that might be the prefix of a marker not yet fully
// arrived; when final is true (Close), no more bytes are coming so it
// processes everything it has.
func (p *Parser) drain(final bool) []Event {
	var events []Event
	for {
		switch p.state {
		case stateOutside:
			ev, consumed, ok := p.scanOutside(final)
			if ok {
				if ev.Text != "" || ev.Type == EventText {
					events = append(events, ev)
				}
				p.buf = p.buf[consumed:]
				continue
			}
			// nothing more to safely emit this round
			if consumed > 0 {
				events = append(events, Event{Type: EventText, Text: p.buf[:consumed]})
				p.buf = p.buf[consumed:]
			}
			return events
		case stateInsideArgs:
			gc, done := p.scanInsideArgs(final)
			if done {
				events = append(events, Event{Type: EventGadget, Gadget: gc})
				p.state = stateOutside
				continue
			}
			return events
		}
	}
}

// scanOutside looks for the start marker in p.buf. Returns the safely
// emittable text event (if any), how many bytes of p.buf were consumed for
// that text, and whether a marker was found and the state machine advanced
// (in which case the caller should strip those bytes too, already folded
// into the returned consumed count via p.buf mutation by the caller).
func (p *Parser) scanOutside(final bool) (Event, int, bool) {
	idx := strings.Index(p.buf, p.prefixes.Start)
	if idx < 0 {
		// no marker found; could a suffix of buf be a partial prefix?
		holdback := partialSuffixLen(p.buf, p.prefixes.Start)
		if final {
			holdback = 0
		}
		safe := len(p.buf) - holdback
		if safe <= 0 {
			return Event{}, 0, false
		}
		return Event{}, safe, false
	}
	// text before the marker is safe to flush
	if idx > 0 {
		// only flush the text; re-run to handle the marker itself next pass
		textEvt := Event{Type: EventText, Text: p.buf[:idx]}
		return textEvt, idx, true
	}
	// marker starts right here; find end of header line
	rest := p.buf[len(p.prefixes.Start):]
	nl := strings.IndexByte(rest, '\n')
	if nl < 0 {
		if !final {
			return Event{}, 0, false // wait for the rest of the header line
		}
		// truncated mid-header; treat whole thing as consumed with no block
		return Event{}, len(p.buf), false
	}
	header := rest[:nl]
	name, invID := splitHeader(header)
	p.name = name
	p.invID = invID
	p.raw = map[string]string{}
	p.order = nil
	p.curPtr = ""
	p.curValue.Reset()
	p.haveArg = false
	p.prelude.Reset()
	p.sawArg = false
	consumed := idx + len(p.prefixes.Start) + nl + 1
	p.state = stateInsideArgs
	return Event{}, consumed, true
}

// splitHeader parses "<Name>[:<invocationId>]" from the start-marker header.
func splitHeader(header string) (name, invID string) {
	if i := strings.IndexByte(header, ':'); i >= 0 {
		return header[:i], header[i+1:]
	}
	return header, ""
}

// scanInsideArgs consumes arg lines and the end marker from p.buf. Returns
// the completed GadgetCall and true once !!!GADGET_END is found.
func (p *Parser) scanInsideArgs(final bool) (GadgetCall, bool) {
	for {
		argIdx := indexOf(p.buf, p.prefixes.Arg)
		endIdx := indexOf(p.buf, p.prefixes.End)

		next := -1
		isArg := false
		if argIdx >= 0 && (endIdx < 0 || argIdx < endIdx) {
			next = argIdx
			isArg = true
		} else if endIdx >= 0 {
			next = endIdx
			isArg = false
		}

		if next < 0 {
			// nothing recognized yet; hold back a possible partial prefix
			holdback := maxInt(partialSuffixLen(p.buf, p.prefixes.Arg), partialSuffixLen(p.buf, p.prefixes.End))
			if final {
				holdback = 0
			}
			safe := len(p.buf) - holdback
			if safe > 0 {
				p.appendValueBytes(p.buf[:safe])
				p.buf = p.buf[safe:]
			}
			return GadgetCall{}, false
		}

		if next > 0 {
			p.appendValueBytes(p.buf[:next])
			p.buf = p.buf[next:]
		}

		if isArg {
			rest := p.buf[len(p.prefixes.Arg):]
			nl := strings.IndexByte(rest, '\n')
			if nl < 0 {
				if !final {
					return GadgetCall{}, false
				}
				p.buf = ""
				continue
			}
			p.closeCurrentValue()
			ptr := rest[:nl]
			p.curPtr = ptr
			p.haveArg = true
			p.sawArg = true
			p.buf = rest[nl+1:]
			continue
		}

		// end marker
		p.closeCurrentValue()
		// consume the end marker literal plus an optional trailing newline
		p.buf = p.buf[len(p.prefixes.End):]
		p.buf = strings.TrimPrefix(p.buf, "\n")
		return p.finish(), true
	}
}

// appendValueBytes routes bytes either to the current arg's value buffer or,
// if no !!!ARG: has been seen yet, to the undefined-semantics prelude buffer
// (spec.md §9 open question: discard with a diagnostic).
func (p *Parser) appendValueBytes(s string) {
	if s == "" {
		return
	}
	if p.haveArg {
		p.curValue.WriteString(s)
	} else {
		p.prelude.WriteString(s)
	}
}

// closeCurrentValue flushes the in-progress arg value into raw, trimming
// exactly one trailing newline (the line terminator belongs to the wire
// format, not the value) and recording pointer collisions (last write wins).
func (p *Parser) closeCurrentValue() {
	if !p.haveArg {
		return
	}
	val := p.curValue.String()
	val = strings.TrimSuffix(val, "\n")
	if prev, exists := p.raw[p.curPtr]; exists {
		p.raw[p.curPtr] = val
		_ = prev // collision noted via __collisions__ below
		p.raw["__collisions__/"+p.curPtr] = prev
	} else {
		p.raw[p.curPtr] = val
		p.order = append(p.order, p.curPtr)
	}
	p.curValue.Reset()
	p.haveArg = false
}

// finish builds the completed GadgetCall from accumulated raw pointer values.
func (p *Parser) finish() GadgetCall {
	gc := GadgetCall{
		Name:          p.name,
		InvocationID:  p.invID,
		ParametersRaw: p.raw,
	}
	if p.prelude.Len() > 0 {
		gc.ParametersRaw["__prelude__"] = p.prelude.String()
	}
	params, deps := buildTree(p.raw, p.order)
	gc.Parameters = params
	gc.Dependencies = deps
	return gc
}

func indexOf(s, sub string) int {
	if sub == "" {
		return -1
	}
	return strings.Index(s, sub)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// partialSuffixLen returns the length of the longest suffix of s that is a
// proper, non-empty prefix of marker — i.e. bytes that must be held back
// because a future chunk could complete marker starting there.
func partialSuffixLen(s, marker string) int {
	max := len(marker) - 1
	if max > len(s) {
		max = len(s)
	}
	for l := max; l > 0; l-- {
		if strings.HasSuffix(s, marker[:l]) {
			return l
		}
	}
	return 0
}
