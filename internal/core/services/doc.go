// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters).
//
// IngestService turns raw text into stored chunks, RetrievalService lists
// and searches them under a caller scope, ReindexService and Scheduler
// repair chunks left pending by a failed vector write, and SettingsService
// resolves configuration.
package services
