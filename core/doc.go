// Package core contains the conversation domain types, the contracts between
// the pipeline and its stores and collaborators, configuration and the error
// taxonomy. Adapters depend on core; core depends on no adapter.
package core
