// Package conversation fits chat history into a model's context budget.
package conversation

import (
	"fmt"
	"sort"

	"github.com/HerbHall/counsellor/pkg/llm"
)

// maxWindow bounds the trailing window of recent messages.
const maxWindow = 10

// Truncate returns messages shortened to fit the context budget of model,
// after reserving room for the serialized profile. When the history already
// fits the input slice is returned as is.
//
// Retention, in priority order: every system message; the opening assistant
// greeting; a trailing window ending at the last user message. If that is
// still too large a truncation marker replaces the greeting and the window is
// halved, and failing that only the last user message and the assistant turn
// before it survive. Spare budget is backfilled with the most recent dropped
// messages. Apart from the marker, the result is always a subsequence of the
// input in its original order and always keeps the last user message.
func Truncate(messages []llm.Message, model string, profile any) []llm.Message {
	if len(messages) == 0 {
		return messages
	}

	available := AvailableTokens(model, profile)
	total := EstimateMessagesTokens(messages)
	if total <= available {
		return messages
	}

	var system, conv []int
	for i, m := range messages {
		if m.Role == llm.RoleSystem {
			system = append(system, i)
		} else {
			conv = append(conv, i)
		}
	}
	if len(conv) == 0 {
		return messages
	}

	lastUser := -1
	for p := len(conv) - 1; p >= 0; p-- {
		if messages[conv[p]].Role == llm.RoleUser {
			lastUser = p
			break
		}
	}
	if lastUser < 0 {
		return messages
	}

	// Positions below are indexes into conv.
	var head []int
	if messages[conv[0]].Role == llm.RoleAssistant {
		head = []int{0}
	}

	size := min(maxWindow, len(conv)/3)
	size = max(size, 1)
	start := max(lastUser-size+1, len(head))
	window := positions(start, lastUser)

	sel := newSelection(messages, conv)
	sel.addIndexes(system)
	sel.addPositions(head)
	sel.addPositions(window)

	if sel.cost <= available {
		// Backfill the gap between the greeting and the window, newest first.
		for p := start - 1; p >= len(head); p-- {
			if c := MessageTokens(messages[conv[p]]); sel.cost+c <= available {
				sel.addPositions([]int{p})
			}
		}
		return sel.build(nil, total)
	}

	half := window[len(window)-max(1, len(window)/2):]
	sel = newSelection(messages, conv)
	sel.addIndexes(system)
	sel.addPositions(half)
	marker := truncationMarker(len(half))
	if sel.cost+MessageTokens(marker) <= available {
		return sel.build(&marker, total)
	}

	sel = newSelection(messages, conv)
	sel.addIndexes(system)
	if lastUser > 0 && messages[conv[lastUser-1]].Role == llm.RoleAssistant {
		sel.addPositions([]int{lastUser - 1})
	}
	sel.addPositions([]int{lastUser})
	marker = truncationMarker(sel.kept())
	return sel.build(&marker, total)
}

// Describe summarizes the conversational content of messages.
func Describe(messages []llm.Message) string {
	var total, user, assistant int
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			continue
		case llm.RoleUser:
			user++
		case llm.RoleAssistant:
			assistant++
		}
		total++
	}
	return fmt.Sprintf("Conversation context: %d messages (%d from user, %d from assistant)", total, user, assistant)
}

func truncationMarker(kept int) llm.Message {
	return llm.SystemMessage(fmt.Sprintf(
		"[Previous conversation truncated. Keeping system context and most recent %d messages.]", kept))
}

func positions(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for p := from; p <= to; p++ {
		out = append(out, p)
	}
	return out
}

// selection accumulates kept message indexes and their token cost.
type selection struct {
	messages []llm.Message
	conv     []int
	keep     map[int]bool
	cost     int
}

func newSelection(messages []llm.Message, conv []int) *selection {
	return &selection{messages: messages, conv: conv, keep: make(map[int]bool)}
}

func (s *selection) add(i int) {
	if s.keep[i] {
		return
	}
	s.keep[i] = true
	s.cost += MessageTokens(s.messages[i])
}

func (s *selection) addIndexes(idx []int) {
	for _, i := range idx {
		s.add(i)
	}
}

// kept counts the selected non-system messages.
func (s *selection) kept() int {
	n := 0
	for i := range s.keep {
		if s.messages[i].Role != llm.RoleSystem {
			n++
		}
	}
	return n
}

func (s *selection) addPositions(pos []int) {
	for _, p := range pos {
		s.add(s.conv[p])
	}
}

// build emits the kept messages in input order. The marker, when given, sits
// between the system messages and the first kept conversation message; it is
// omitted if it would make the result costlier than the input.
func (s *selection) build(marker *llm.Message, inputCost int) []llm.Message {
	idx := make([]int, 0, len(s.keep))
	for i := range s.keep {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	if marker != nil && s.cost+MessageTokens(*marker) > inputCost {
		marker = nil
	}

	out := make([]llm.Message, 0, len(idx)+1)
	placed := marker == nil
	for _, i := range idx {
		if !placed && s.messages[i].Role != llm.RoleSystem {
			out = append(out, *marker)
			placed = true
		}
		out = append(out, s.messages[i])
	}
	if !placed {
		out = append(out, *marker)
	}
	return out
}
