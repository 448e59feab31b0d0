package contextengine

import (
	"fmt"
	"strings"
)

// Window holds one agent's view of the conversation: an immutable system
// section and an evictable FIFO of inherited context messages, bounded by an
// Allocation. AddContextMessage keeps ContextTokens() within
// Allocation.ContextTokens; system messages are always retained and not
// bounded, so SystemTokens() + ContextTokens() stays within
// Allocation.TotalInput() as long as the system section fits in
// Allocation.SystemTokens.
type Window struct {
	allocation TokenAllocation
	depth      int

	system  []Message
	context []Message

	systemTokens  int
	contextTokens int
}

// NewWindow constructs an empty window for the given depth and allocation.
func NewWindow(depth int, allocation TokenAllocation) *Window {
	return &Window{allocation: allocation, depth: depth}
}

// Allocation returns the window's token allocation.
func (w *Window) Allocation() TokenAllocation { return w.allocation }

// Depth returns the depth this window was built for.
func (w *Window) Depth() int { return w.depth }

// SystemMessages returns the immutable system section, oldest first.
func (w *Window) SystemMessages() []Message {
	out := make([]Message, len(w.system))
	copy(out, w.system)
	return out
}

// ContextMessages returns the evictable FIFO, oldest first.
func (w *Window) ContextMessages() []Message {
	out := make([]Message, len(w.context))
	copy(out, w.context)
	return out
}

// SystemTokens is the running estimated token count of the system section.
func (w *Window) SystemTokens() int { return w.systemTokens }

// ContextTokens is the running estimated token count of the context FIFO.
func (w *Window) ContextTokens() int { return w.contextTokens }

// AddSystemMessage appends to the immutable system section. System messages
// are never evicted; callers are responsible for keeping the system prompt
// within budget (the window does not truncate system content, matching the
// "always retained" contract).
func (w *Window) AddSystemMessage(m Message) {
	w.system = append(w.system, m)
	w.systemTokens += EstimateTokens(m)
}

// AddContextMessage appends m to the FIFO, evicting from the front while the
// running total would exceed the context allocation. A single message that
// alone exceeds the allocation is truncated by suffix with an ellipsis
// marker and inserted once
func (w *Window) AddContextMessage(m Message) {
	limit := w.allocation.ContextTokens
	tokens := EstimateTokens(m)
	if tokens > limit {
		m = Message{Role: m.Role, Content: truncateToTokens(m.Content, limit)}
		tokens = EstimateTokens(m)
		w.context = nil
		w.contextTokens = 0
		w.context = append(w.context, m)
		w.contextTokens += tokens
		return
	}
	for len(w.context) > 0 && w.contextTokens+tokens > limit {
		evicted := w.context[0]
		w.context = w.context[1:]
		w.contextTokens -= EstimateTokens(evicted)
	}
	w.context = append(w.context, m)
	w.contextTokens += tokens
}

// CompressTo drops oldest context messages until the running total is at
// most targetTokens.
func (w *Window) CompressTo(targetTokens int) {
	for len(w.context) > 0 && w.contextTokens > targetTokens {
		evicted := w.context[0]
		w.context = w.context[1:]
		w.contextTokens -= EstimateTokens(evicted)
	}
}

// EstimatedContextTokens sums the raw (pre-compression) estimate of the
// messages given, independent of any window — used by callers (e.g. the
// executor) to measure compression ratios against the original volume
// inherited before a child window is derived.
func EstimatedContextTokens(msgs []Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m)
	}
	return total
}

// ChildWindow derives a new window for a child agent at childDepth, applying
// the compression strategy implied by DisclosureForDepth(childDepth) to the
// messages currently held by w (system + context, oldest first) before
// inserting them into the new window via AddContextMessage/AddSystemMessage.
func (w *Window) ChildWindow(childDepth int, childAllocation TokenAllocation) *Window {
	level := DisclosureForDepth(childDepth)
	child := NewWindow(childDepth, childAllocation)

	inherited := append(append([]Message{}, w.system...), w.context...)

	switch level {
	case Full:
		for _, m := range inherited {
			child.AddContextMessage(m)
		}
	case Summary:
		for _, m := range compressSummary(inherited) {
			child.AddContextMessage(m)
		}
	case Essential:
		child.AddSystemMessage(compressEssential(inherited))
	case Minimal:
		child.AddSystemMessage(compressMinimal(inherited))
	default:
		child.AddSystemMessage(compressEssential(inherited))
	}
	return child
}

// compressSummary coalesces consecutive same-role runs into a single message
// keeping the first and last sentence of the run, noting how many sentences
// were omitted.
func compressSummary(msgs []Message) []Message {
	if len(msgs) == 0 {
		return nil
	}
	var out []Message
	i := 0
	for i < len(msgs) {
		role := msgs[i].Role
		j := i
		var parts []string
		for j < len(msgs) && msgs[j].Role == role {
			parts = append(parts, msgs[j].Content)
			j++
		}
		out = append(out, Message{Role: role, Content: summarizeRun(parts)})
		i = j
	}
	return out
}

func summarizeRun(parts []string) string {
	joined := strings.Join(parts, " ")
	sentences := splitSentences(joined)
	switch len(sentences) {
	case 0:
		return joined
	case 1:
		return sentences[0]
	case 2:
		return sentences[0] + " " + sentences[1]
	default:
		omitted := len(sentences) - 2
		return fmt.Sprintf("%s [%d sentences omitted] %s", sentences[0], omitted, sentences[len(sentences)-1])
	}
}

// compressEssential extracts bullet-like/numeric/keyworded lines from each
// message and joins them into a single system message.
func compressEssential(msgs []Message) Message {
	var lines []string
	for _, m := range msgs {
		lines = append(lines, substantiveLines(m.Content)...)
	}
	return Message{Role: RoleSystem, Content: "Context summary:\n" + strings.Join(lines, "\n")}
}

// compressMinimal keeps only a two-sentence truncation of the latest
// substantive (>50 chars) message.
func compressMinimal(msgs []Message) Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if len(msgs[i].Content) > 50 {
			sentences := splitSentences(msgs[i].Content)
			var take []string
			for k := 0; k < len(sentences) && k < 2; k++ {
				take = append(take, sentences[k])
			}
			text := strings.Join(take, " ")
			if text == "" {
				text = msgs[i].Content
			}
			return Message{Role: RoleSystem, Content: "Previous context: " + text}
		}
	}
	return Message{Role: RoleSystem, Content: "Previous context: "}
}
