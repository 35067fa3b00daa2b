package cascade

import (
	"fmt"
	"strings"
)

// ContextManager decides when and how to shrink a conversation log so it
// stays inside a token budget. Implementations are pure over the passed
// history: no hidden state between calls, deterministic for a given input.
type ContextManager interface {
	// ShouldPrune reports whether the history needs shrinking.
	ShouldPrune(history []ChatMessage, currentTokens int) bool
	// Prune returns the shrunk history and the number of tokens freed.
	Prune(history []ChatMessage) ([]ChatMessage, int)
	// EstimateTokens approximates the token count of the history.
	EstimateTokens(history []ChatMessage) int
	// Name identifies the strategy.
	Name() string
}

// EstimateTokens approximates tokens for a history: 1 token per 4 content
// characters, +1 per role marker, +20 per outgoing tool call. All bundled
// strategies share this formula.
func EstimateTokens(history []ChatMessage) int {
	total := 0
	for _, m := range history {
		total += len(m.Content)/4 + 1 + len(m.ToolCalls)*20
	}
	return total
}

// leadingSystemCount returns how many messages at the head of the history
// have the system role.
func leadingSystemCount(history []ChatMessage) int {
	n := 0
	for _, m := range history {
		if m.Role != "system" {
			break
		}
		n++
	}
	return n
}

// --- NoOp ---

// NoOpManager never prunes.
type NoOpManager struct{}

func NewNoOpManager() *NoOpManager { return &NoOpManager{} }

func (*NoOpManager) ShouldPrune([]ChatMessage, int) bool { return false }

func (*NoOpManager) Prune(history []ChatMessage) ([]ChatMessage, int) {
	return history, 0
}

func (*NoOpManager) EstimateTokens(history []ChatMessage) int {
	return EstimateTokens(history)
}

func (*NoOpManager) Name() string { return "NoOp" }

// --- TokenBudget ---

// TokenBudgetManager prunes oldest-first once the history approaches its
// input budget. The input budget is total * ratio / (ratio + 1); pruning
// triggers a safety buffer (10% by default) before the budget is hit.
// Leading system messages are always preserved, and eviction takes whole
// request/response groups so no orphan tool message survives without its
// matching assistant call.
type TokenBudgetManager struct {
	maxInputTokens    int
	minMessagesToKeep int
	safetyBuffer      int
}

// NewTokenBudgetManager derives the input budget from the total context
// size and the input:output ratio.
//
//	NewTokenBudgetManager(24_000, 3.0)  // 18k input, 6k output
//	NewTokenBudgetManager(128_000, 4.0) // 102.4k input, 25.6k output
func NewTokenBudgetManager(totalContextTokens int, inputOutputRatio float64) *TokenBudgetManager {
	if inputOutputRatio <= 0 {
		inputOutputRatio = defaultInputOutputRatio
	}
	maxInput := int(float64(totalContextTokens) * inputOutputRatio / (inputOutputRatio + 1))
	return &TokenBudgetManager{
		maxInputTokens:    maxInput,
		minMessagesToKeep: 3, // system + at least one user/assistant pair
		safetyBuffer:      maxInput / 10,
	}
}

// WithSafetyBuffer overrides the default 10% pruning buffer.
func (m *TokenBudgetManager) WithSafetyBuffer(tokens int) *TokenBudgetManager {
	m.safetyBuffer = tokens
	return m
}

// WithMinMessages overrides the minimum number of messages retained.
func (m *TokenBudgetManager) WithMinMessages(n int) *TokenBudgetManager {
	m.minMessagesToKeep = n
	return m
}

// PruningThreshold is the token count that triggers pruning.
func (m *TokenBudgetManager) PruningThreshold() int {
	if m.safetyBuffer > m.maxInputTokens {
		return 0
	}
	return m.maxInputTokens - m.safetyBuffer
}

// MaxInputTokens returns the derived input budget.
func (m *TokenBudgetManager) MaxInputTokens() int { return m.maxInputTokens }

func (m *TokenBudgetManager) ShouldPrune(_ []ChatMessage, currentTokens int) bool {
	return currentTokens > m.PruningThreshold()
}

func (m *TokenBudgetManager) Prune(history []ChatMessage) ([]ChatMessage, int) {
	if len(history) <= m.minMessagesToKeep {
		return history, 0
	}

	before := m.EstimateTokens(history)
	sysCount := leadingSystemCount(history)
	system := history[:sysCount]
	remaining := append([]ChatMessage(nil), history[sysCount:]...)

	target := m.PruningThreshold()
	current := before
	for current > target && len(remaining) > m.minMessagesToKeep {
		group := evictionGroup(remaining)
		for _, msg := range remaining[:group] {
			current -= m.EstimateTokens([]ChatMessage{msg})
		}
		remaining = remaining[group:]
	}

	pruned := make([]ChatMessage, 0, sysCount+len(remaining))
	pruned = append(pruned, system...)
	pruned = append(pruned, remaining...)
	return pruned, before - m.EstimateTokens(pruned)
}

// evictionGroup returns how many messages at the head of msgs form one
// eviction unit: an assistant message with tool calls takes its following
// tool results along, everything else evicts alone.
func evictionGroup(msgs []ChatMessage) int {
	if len(msgs) == 0 {
		return 0
	}
	if msgs[0].Role != "assistant" || len(msgs[0].ToolCalls) == 0 {
		return 1
	}
	n := 1
	for n < len(msgs) && msgs[n].Role == "tool" {
		n++
	}
	return n
}

func (m *TokenBudgetManager) EstimateTokens(history []ChatMessage) int {
	return EstimateTokens(history)
}

func (m *TokenBudgetManager) Name() string { return "TokenBudget" }

// --- SlidingWindow ---

// SlidingWindowManager keeps leading system messages plus the most recent
// non-system messages, up to maxMessages in total.
type SlidingWindowManager struct {
	maxMessages int
}

func NewSlidingWindowManager(maxMessages int) *SlidingWindowManager {
	return &SlidingWindowManager{maxMessages: maxMessages}
}

func (m *SlidingWindowManager) ShouldPrune(history []ChatMessage, _ int) bool {
	return len(history) > m.maxMessages
}

func (m *SlidingWindowManager) Prune(history []ChatMessage) ([]ChatMessage, int) {
	if len(history) <= m.maxMessages {
		return history, 0
	}

	before := m.EstimateTokens(history)
	sysCount := leadingSystemCount(history)
	keep := m.maxMessages - sysCount
	if keep < 0 {
		keep = 0
	}

	rest := history[sysCount:]
	if keep < len(rest) {
		rest = rest[len(rest)-keep:]
	}

	pruned := make([]ChatMessage, 0, sysCount+len(rest))
	pruned = append(pruned, history[:sysCount]...)
	pruned = append(pruned, rest...)
	return pruned, before - m.EstimateTokens(pruned)
}

func (m *SlidingWindowManager) EstimateTokens(history []ChatMessage) int {
	return EstimateTokens(history)
}

func (m *SlidingWindowManager) Name() string { return "SlidingWindow" }

// --- MessageType ---

// MessageTypeManager prunes by role priority: system > user/assistant >
// tool. System messages are always preserved, the most recent
// user/assistant pairs are protected, and old tool messages go first.
type MessageTypeManager struct {
	maxMessages     int
	keepRecentPairs int
}

func NewMessageTypeManager(maxMessages, keepRecentPairs int) *MessageTypeManager {
	return &MessageTypeManager{maxMessages: maxMessages, keepRecentPairs: keepRecentPairs}
}

func (m *MessageTypeManager) ShouldPrune(history []ChatMessage, _ int) bool {
	return len(history) > m.maxMessages
}

func (m *MessageTypeManager) Prune(history []ChatMessage) ([]ChatMessage, int) {
	if len(history) <= m.maxMessages {
		return history, 0
	}

	before := m.EstimateTokens(history)

	protected := make(map[int]bool)
	for i, msg := range history {
		if msg.Role == "system" {
			protected[i] = true
		}
	}
	for _, i := range recentPairIndices(history, m.keepRecentPairs) {
		protected[i] = true
	}

	kept := make([]int, 0, len(protected))
	for i := range history {
		if protected[i] {
			kept = append(kept, i)
		}
	}

	// Still over the cap: drop the lowest-priority protected messages,
	// oldest first, never touching system messages.
	for len(kept) > m.maxMessages {
		drop := -1
		worst := 0
		for _, i := range kept {
			p := rolePriority(history[i].Role)
			if p > worst {
				worst = p
				drop = i
			}
		}
		if drop < 0 {
			break
		}
		next := kept[:0]
		for _, i := range kept {
			if i != drop {
				next = append(next, i)
			}
		}
		kept = next
	}

	pruned := make([]ChatMessage, 0, len(kept))
	for _, i := range kept {
		pruned = append(pruned, history[i])
	}
	return pruned, before - m.EstimateTokens(pruned)
}

// rolePriority: lower is more important.
func rolePriority(role string) int {
	switch role {
	case "system":
		return 0
	case "user", "assistant":
		return 1
	default:
		return 2
	}
}

// recentPairIndices walks the history tail backwards and collects up to
// keepPairs assistant messages together with their preceding user message.
func recentPairIndices(history []ChatMessage, keepPairs int) []int {
	var indices []int
	pairs := 0
	i := len(history)
	for i > 0 && pairs < keepPairs {
		i--
		role := history[i].Role
		if role != "user" && role != "assistant" {
			continue
		}
		indices = append(indices, i)
		if role == "assistant" {
			for j := i - 1; j >= 0; j-- {
				if history[j].Role == "user" {
					indices = append(indices, j)
					pairs++
					i = j
					break
				}
			}
		}
	}
	return indices
}

func (m *MessageTypeManager) EstimateTokens(history []ChatMessage) int {
	return EstimateTokens(history)
}

func (m *MessageTypeManager) Name() string { return "MessageType" }

// --- Summarization ---

// SummarizeFunc condenses a slice of messages into one summary string.
// The default implementation is heuristic; plug in a model-backed one for
// production use.
type SummarizeFunc func(msgs []ChatMessage) string

// SummarizationManager replaces old history with a single synthetic system
// summary once the log crosses a token threshold, keeping the most recent
// messages untouched. If the result still exceeds the input budget an
// emergency truncation keeps system messages plus half the recent tail.
type SummarizationManager struct {
	maxInputTokens     int
	threshold          int
	summaryTokenTarget int
	keepRecentCount    int
	summarize          SummarizeFunc
}

func NewSummarizationManager(maxInputTokens, threshold, summaryTokenTarget, keepRecentCount int) *SummarizationManager {
	return &SummarizationManager{
		maxInputTokens:     maxInputTokens,
		threshold:          threshold,
		summaryTokenTarget: summaryTokenTarget,
		keepRecentCount:    keepRecentCount,
		summarize:          defaultSummarize,
	}
}

// WithSummarizer replaces the heuristic summariser.
func (m *SummarizationManager) WithSummarizer(fn SummarizeFunc) *SummarizationManager {
	if fn != nil {
		m.summarize = fn
	}
	return m
}

func (m *SummarizationManager) ShouldPrune(_ []ChatMessage, currentTokens int) bool {
	return currentTokens > m.threshold
}

func (m *SummarizationManager) Prune(history []ChatMessage) ([]ChatMessage, int) {
	before := m.EstimateTokens(history)
	if before <= m.threshold {
		return history, 0
	}

	keepFromEnd := min(m.keepRecentCount, len(history))
	head := history[:len(history)-keepFromEnd]
	tail := history[len(history)-keepFromEnd:]
	if len(head) == 0 {
		return history, 0
	}

	var pruned []ChatMessage
	var toSummarize []ChatMessage
	for _, msg := range head {
		if msg.Role == "system" {
			pruned = append(pruned, msg)
		} else {
			toSummarize = append(toSummarize, msg)
		}
	}
	if len(toSummarize) > 0 {
		summary := m.summarize(toSummarize)
		summary = capToTokens(summary, m.summaryTokenTarget)
		pruned = append(pruned, SystemMessage(summary))
	}
	pruned = append(pruned, tail...)

	if m.EstimateTokens(pruned) > m.maxInputTokens {
		emergency := m.keepRecentCount / 2
		var kept []ChatMessage
		for _, msg := range pruned {
			if msg.Role == "system" {
				kept = append(kept, msg)
			}
		}
		if emergency > 0 && emergency < len(history) {
			kept = append(kept, history[len(history)-emergency:]...)
		}
		pruned = kept
	}

	return pruned, before - m.EstimateTokens(pruned)
}

// capToTokens truncates s so its 4-chars-per-token estimate stays within
// target. A zero or negative target disables the cap.
func capToTokens(s string, target int) string {
	if target <= 0 {
		return s
	}
	maxChars := target * 4
	if len(s) <= maxChars {
		return s
	}
	return s[:maxChars]
}

func defaultSummarize(msgs []ChatMessage) string {
	var users, assistants []ChatMessage
	for _, m := range msgs {
		switch m.Role {
		case "user":
			users = append(users, m)
		case "assistant":
			assistants = append(assistants, m)
		}
	}

	var b strings.Builder
	b.WriteString("Summary of previous conversation:\n\n")
	fmt.Fprintf(&b, "- %d user inputs and %d assistant responses\n", len(users), len(assistants))
	if len(users) > 0 {
		fmt.Fprintf(&b, "- Initial topic: %s\n", preview(users[0].Content, 100))
	}
	if len(assistants) > 0 {
		fmt.Fprintf(&b, "- Latest response: %s\n", preview(assistants[len(assistants)-1].Content, 100))
	}
	b.WriteString("\n[This is a compressed summary. Original messages were removed to save context space.]")
	return b.String()
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func (m *SummarizationManager) EstimateTokens(history []ChatMessage) int {
	return EstimateTokens(history)
}

func (m *SummarizationManager) Name() string { return "Summarization" }

// compile-time checks
var (
	_ ContextManager = (*NoOpManager)(nil)
	_ ContextManager = (*TokenBudgetManager)(nil)
	_ ContextManager = (*SlidingWindowManager)(nil)
	_ ContextManager = (*MessageTypeManager)(nil)
	_ ContextManager = (*SummarizationManager)(nil)
)
