package filterchain

import "strings"

var (
	optionEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`)
	graphEscaper  = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `[`, `\[`, `]`, `\]`, `,`, `\,`, `;`, `\;`)
)

// Escape quotes a user supplied value (caption text, file path) for use as a
// filter option inside a filtergraph. Both escaping levels are applied: the
// option level, then the graph level.
func Escape(s string) string {
	return graphEscaper.Replace(optionEscaper.Replace(s))
}
