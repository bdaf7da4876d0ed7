// Package html turns HTML documents into plain text for chunking. Markup,
// scripts and styles are dropped and entities decoded; block elements
// become paragraph breaks so the chunker can still split on them.
package html
