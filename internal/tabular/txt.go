package tabular

import (
	"bufio"
	"io"
	"strings"
)

// txtFormat is a human-readable dump used for export only.
type txtFormat struct{}

func (txtFormat) Key() string                    { return "txt" }
func (txtFormat) ContentType() string            { return "text/plain" }
func (txtFormat) Detect([]byte) bool             { return false }
func (txtFormat) Read([]byte) ([]*Dataset, error) { return nil, ErrWriteOnly }

// Write prints every cell under a dashed key header and ends each row with
// a line of asterisks.
func (txtFormat) Write(w io.Writer, ds *Dataset) error {
	bw := bufio.NewWriter(w)
	for _, r := range ds.Rows {
		for i, h := range ds.Headers {
			var v string
			if i < len(r) {
				v = cellString(r[i])
			}
			rule := strings.Repeat("-", len(h))
			bw.WriteString(rule + "\n")
			bw.WriteString(h + "\n")
			bw.WriteString(rule + "\n")
			bw.WriteString(v + "\n\n")
		}
		bw.WriteString("\n" + strings.Repeat("*", 50) + "\n\n\n")
	}
	return bw.Flush()
}
