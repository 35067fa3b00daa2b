package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys shared by observability spans, metrics, and logs.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")

	AttrTokensInput  = attribute.Key("llm.tokens.input")
	AttrTokensOutput = attribute.Key("llm.tokens.output")

	AttrToolCount = attribute.Key("llm.tool_count")

	AttrToolName         = attribute.Key("tool.name")
	AttrToolStatus       = attribute.Key("tool.status")
	AttrToolResultLength = attribute.Key("tool.result_length")

	AttrAgentName  = attribute.Key("agent.name")
	AttrWorkflowID = attribute.Key("workflow.id")
)
