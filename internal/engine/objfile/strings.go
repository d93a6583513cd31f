package objfile

import (
	"github.com/binbridge/binbridge/internal/engine"
)

// DefaultMinStringLength is the shortest printable run reported as a string.
const DefaultMinStringLength = 4

// scanStrings extracts printable ASCII runs of at least minLen bytes from
// read-only data regions, ordered by address. A run ends at NUL, at any
// other unprintable byte, or at the end of the region.
func scanStrings(regions []region, minLen int) []engine.StringLiteral {
	if minLen < 1 {
		minLen = DefaultMinStringLength
	}

	var out []engine.StringLiteral
	for _, r := range regions {
		if !r.rodata {
			continue
		}
		start := -1
		flush := func(end int) {
			if start >= 0 && end-start >= minLen {
				out = append(out, engine.StringLiteral{
					Address: r.start + engine.Address(start),
					Text:    string(r.data[start:end]),
					Length:  end - start,
					Segment: r.name,
				})
			}
			start = -1
		}
		for i, c := range r.data {
			if printable(c) {
				if start < 0 {
					start = i
				}
				continue
			}
			flush(i)
		}
		flush(len(r.data))
	}
	return out
}

func printable(c byte) bool {
	return (c >= 0x20 && c < 0x7f) || c == '\t'
}
