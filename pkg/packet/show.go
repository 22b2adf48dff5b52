package packet

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

const maxDumpBytes = 64

// String renders the chain as an indented tree.
func (l *Layer) String() string {
	var sb strings.Builder
	l.Dump(&sb)
	return sb.String()
}

// Dump writes the chain as an indented tree, one field per line.
func (l *Layer) Dump(w io.Writer) {
	dump(w, l, 0)
}

func dump(w io.Writer, l *Layer, depth int) {
	for cur := l; cur != nil; cur = cur.inner {
		pad := strings.Repeat("  ", depth)
		fmt.Fprintf(w, "%s[%s]\n", pad, cur.def.name)
		v := cur.values()
		for i := range cur.def.fields {
			f := &cur.def.fields[i]
			v.upto = i
			if ok, err := f.Present.eval(v); err != nil || !ok {
				continue
			}
			val := cur.Get(f.Name)
			if items, ok := val.([]*Layer); ok {
				fmt.Fprintf(w, "%s  %s: %d item(s)\n", pad, f.Name, len(items))
				for _, item := range items {
					dump(w, item, depth+2)
				}
				continue
			}
			fmt.Fprintf(w, "%s  %s: %s\n", pad, f.Name, formatValue(val))
		}
		if cur.codec != 0 {
			fmt.Fprintf(w, "%s  (payload compressed with %s)\n", pad, cur.codec)
		}
		if cur.inner == nil && len(cur.raw) > 0 {
			fmt.Fprintf(w, "%s  payload: %s\n", pad, formatValue(cur.raw))
		}
		if cur.payloadErr != nil {
			fmt.Fprintf(w, "%s  payload error: %v\n", pad, cur.payloadErr)
		}
		if len(cur.trailing) > 0 {
			fmt.Fprintf(w, "%s  trailing: %s\n", pad, formatValue(cur.trailing))
		}
		depth++
	}
}

func formatValue(v any) string {
	switch x := v.(type) {
	case []byte:
		if len(x) > maxDumpBytes {
			return fmt.Sprintf("%s... (%d bytes)", hex.EncodeToString(x[:maxDumpBytes]), len(x))
		}
		return hex.EncodeToString(x)
	case string:
		return fmt.Sprintf("%q", x)
	case uint64:
		return fmt.Sprintf("%d (%#x)", x, x)
	}
	return fmt.Sprint(v)
}
