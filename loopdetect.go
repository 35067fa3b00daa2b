package cascade

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"strings"
)

// defaultLoopMessage is the synthetic tool response injected when the model
// repeats a call it already made. {name} and {result} are filled in.
const defaultLoopMessage = "You already called the tool '{name}' with these exact " +
	"parameters and received a response: {result}. Please use the previous result " +
	"instead of calling it again. If you need different information, try calling " +
	"with different parameters."

// LoopDetectionConfig controls the duplicate tool call guard. When a call
// repeats an earlier (name, arguments) pair the tool is not executed;
// the model gets a synthetic message carrying the earlier result instead.
type LoopDetectionConfig struct {
	Enabled bool
	// Message overrides the default template. {tool_name} and
	// {previous_result} are substituted.
	Message string
}

// DefaultLoopDetection returns the enabled config with the stock message.
func DefaultLoopDetection() LoopDetectionConfig {
	return LoopDetectionConfig{Enabled: true}
}

func (c LoopDetectionConfig) render(toolName, previousResult string) string {
	if c.Message != "" {
		msg := strings.ReplaceAll(c.Message, "{tool_name}", toolName)
		return strings.ReplaceAll(msg, "{previous_result}", previousResult)
	}
	msg := strings.ReplaceAll(defaultLoopMessage, "{name}", toolName)
	return strings.ReplaceAll(msg, "{result}", previousResult)
}

// toolCallRecord remembers one executed call for loop comparison.
type toolCallRecord struct {
	name    string
	argHash string
	result  string
}

// toolCallTracker detects exact repeats of (tool, arguments) within one
// agent run. Arguments are hashed from their canonical JSON form, so key
// order in the model's output does not matter. Only genuinely executed
// calls are recorded: a suppressed repeat keeps pointing at the first
// real result.
type toolCallTracker struct {
	records []toolCallRecord
}

func newToolCallTracker() *toolCallTracker {
	return &toolCallTracker{}
}

// checkForLoop returns the earlier result if this exact call was already
// made.
func (t *toolCallTracker) checkForLoop(name string, args map[string]any) (string, bool) {
	h := hashArgs(args)
	for _, r := range t.records {
		if r.name == name && r.argHash == h {
			return r.result, true
		}
	}
	return "", false
}

// record remembers an executed call and its result.
func (t *toolCallTracker) record(name string, args map[string]any, result string) {
	t.records = append(t.records, toolCallRecord{
		name:    name,
		argHash: hashArgs(args),
		result:  result,
	})
}

// hashArgs canonicalises args to JSON (map keys marshal sorted) and hashes
// the bytes.
func hashArgs(args map[string]any) string {
	raw, err := json.Marshal(args)
	if err != nil {
		raw = []byte("{}")
	}
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}
