// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Storage and index
//
//   - RelationalStore / RelationalTx: canonical documents and chunks
//   - VectorStore: similarity index over chunk vectors
//   - SchedulerStore: scheduler task state and history
//   - ConfigStore: application configuration
//   - AuditSink: per-ingest JSONL trail
//
// # Models and text capabilities
//
//   - EmbeddingModel: turns texts into vectors
//   - HTMLStripper, LanguageDetector, Tokenizer: each has a rich
//     implementation and a fallback with the same contract
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter, connector, or normaliser package
package driven
