// Package normalisers cleans raw input text before chunking.
//
// The Preprocessor strips markup (subpackage html), applies Unicode NFKC,
// collapses whitespace, optionally lowercases and detects the language
// (subpackage language). Each step can be switched off through
// domain.PreprocessOptions.
package normalisers
