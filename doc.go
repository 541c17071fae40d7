// Package ragkit is the provider abstraction layer of a retrieval-augmented
// generation system.
//
// It defines the contracts that backends implement and the sentence
// segmentation that turns a token stream into complete sentences:
//
//   - [InferenceProvider]: LLM backend (initialize, invoke, sentence stream)
//   - [EmbeddingProvider]: text-to-vector embedding
//   - [VectorStore]: persistence with per-user vector search
//   - [Retriever]: query to ranked documents
//   - [Segmenter]: incremental sentence boundary detection
//
// # Quick Start
//
//	llm := gemini.New(apiKey, "gemini-1.5-flash")
//	if err := llm.Initialize(ctx); err != nil {
//		return err
//	}
//	for sentence, err := range llm.Stream(ctx, ragkit.NewPrompt("Tell me a story.")) {
//		if err != nil {
//			return err
//		}
//		speak(sentence)
//	}
//
// # Included Implementations
//
// Providers: provider/gemini (Google Gemini), provider/openaicompat (OpenAI-compatible APIs).
// Storage: store/sqlite (local), store/postgres (pgvector).
// Ingestion: ingest (text, HTML, Markdown and PDF into a VectorStore).
// Telemetry: observer (OpenTelemetry wrappers).
//
// See cmd/ragkit for a command-line client wiring everything together.
package ragkit
