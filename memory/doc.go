// Package memory is the long-term memory of a conversational agent.
//
// Selected utterances are persisted as embedding vectors, the most relevant
// ones are recalled for a new query, and accumulated history is compacted
// into summaries from time to time.
//
// Architecture:
//   - Store: vector index backend (chromem-go or SQLite)
//   - Embedder: text-to-vector conversion (ONNX, OpenAI-compatible, Gemini, mock)
//   - Cache: embedding memoization keyed by content hash (ristretto or Redis)
//   - Summarizer: compaction summaries and tags from a completion service
//   - Manager: the session context object tying the above together
//
// Write path: IsAdmissible decides whether text is kept, the cached embedder
// produces its vector, and the store persists it.
//
// Read path: the store returns a similarity shortlist of 4x the requested
// count (capped at 12), and Rank re-sorts it by recency and brevity.
// Similarity only shapes the shortlist. Once a plausible pool exists, fresh
// and concise memories win over marginally closer ones.
//
// Curation: records can be pinned with a note, unpinned, deleted, or bulk
// forgotten by similarity to a query.
//
// Compaction: the most recent window of records is summarized into a new
// record of kind summary. Source records are kept.
package memory
