// Package market canonicalizes heterogeneous exchange listing payloads into
// comparable item identifiers and renders the outbound notification lines.
package market

// Source is one monitored listing endpoint. Immutable after config load.
type Source struct {
	Name string // unique label, also the persisted store's namespace
	Kind string // parser registry key (see Parser)
	URL  string
}
