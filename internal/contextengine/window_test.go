package contextengine

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

// TestWindowNeverExceedsAllocation exercises the window budget ceiling.
func TestWindowNeverExceedsAllocation(t *testing.T) {
	props := gopter.NewProperties(nil)
	props.Property("system+context tokens never exceed total_input", prop.ForAll(
		func(total int, contents []string) bool {
			b := NewBudget(total)
			w := NewWindow(0, b.AllocationForDepth(0))
			for i, c := range contents {
				role := RoleUser
				if i%2 == 0 {
					role = RoleAssistant
				}
				w.AddContextMessage(Message{Role: role, Content: c})
			}
			return w.SystemTokens()+w.ContextTokens() <= w.Allocation().TotalInput()
		},
		gen.IntRange(100, 20000),
		gen.SliceOf(gen.AlphaString()),
	))
	props.TestingRun(t)
}

func TestAddContextMessageEvictsOldestFirst(t *testing.T) {
	b := NewBudget(1000)
	w := NewWindow(0, TokenAllocation{ContextTokens: 20, SystemTokens: 100, InputTokens: 100, OutputTokens: 100})
	_ = b
	w.AddContextMessage(Message{Role: RoleUser, Content: "aaaa"})
	w.AddContextMessage(Message{Role: RoleUser, Content: "bbbb"})
	w.AddContextMessage(Message{Role: RoleUser, Content: "cccccccccccccccccccccccccccccccccccccccc"})

	msgs := w.ContextMessages()
	require.NotEmpty(t, msgs)
	require.LessOrEqual(t, w.SystemTokens()+w.ContextTokens(), w.Allocation().TotalInput())
}

func TestAddContextMessageTruncatesOversizedSingleMessage(t *testing.T) {
	w := NewWindow(0, TokenAllocation{ContextTokens: 10, SystemTokens: 10, InputTokens: 10, OutputTokens: 10})
	huge := strings.Repeat("x", 1000)
	w.AddContextMessage(Message{Role: RoleUser, Content: huge})

	msgs := w.ContextMessages()
	require.Len(t, msgs, 1)
	require.True(t, strings.HasSuffix(msgs[0].Content, ellipsis))
	require.LessOrEqual(t, w.ContextTokens(), w.Allocation().ContextTokens)
}

// TestChildWindowCompressesProgressively derives two generations of child windows.
func TestChildWindowCompressesProgressively(t *testing.T) {
	budget := NewBudget(8192)
	root := NewWindow(0, budget.AllocationForDepth(0))

	var inherited []Message
	for i := 0; i < 40; i++ {
		m := Message{Role: RoleAssistant, Content: strings.Repeat("word ", 200)} // ~1000 chars
		inherited = append(inherited, m)
		root.AddContextMessage(m)
	}
	originalEstimate := EstimatedContextTokens(inherited)

	planner := root.ChildWindow(1, budget.AllocationForDepth(1))
	plannerInherited := append(planner.SystemMessages(), planner.ContextMessages()...)
	plannerEstimate := EstimatedContextTokens(plannerInherited)
	require.LessOrEqual(t, plannerEstimate, originalEstimate/2+1)

	coder := planner.ChildWindow(2, budget.AllocationForDepth(2))
	coderInherited := append(coder.SystemMessages(), coder.ContextMessages()...)
	coderEstimate := EstimatedContextTokens(coderInherited)
	require.LessOrEqual(t, coderEstimate, originalEstimate/4+1)
}

func TestCompressTo(t *testing.T) {
	w := NewWindow(0, TokenAllocation{ContextTokens: 1000, SystemTokens: 100, InputTokens: 100, OutputTokens: 100})
	for i := 0; i < 10; i++ {
		w.AddContextMessage(Message{Role: RoleUser, Content: "hello world this is a message"})
	}
	before := w.ContextTokens()
	w.CompressTo(before / 2)
	require.LessOrEqual(t, w.ContextTokens(), before/2)
}
