package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys for observability spans and metrics.
var (
	AttrLLMModel    = attribute.Key("llm.model")
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")

	AttrPromptMessages  = attribute.Key("llm.prompt.messages")
	AttrResponseLength  = attribute.Key("llm.response.length")
	AttrStreamSentences = attribute.Key("llm.stream.sentences")

	AttrEmbedTextCount  = attribute.Key("llm.embed.text_count")
	AttrEmbedDimensions = attribute.Key("llm.embed.dimensions")

	AttrStoreOperation = attribute.Key("store.operation")
	AttrStoreDocuments = attribute.Key("store.documents")
	AttrStoreTopK      = attribute.Key("store.top_k")
	AttrStoreResults   = attribute.Key("store.results")

	AttrStatus = attribute.Key("status")
)
