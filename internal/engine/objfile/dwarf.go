package objfile

import (
	"debug/dwarf"
	"fmt"
	"strings"

	"github.com/binbridge/binbridge/internal/engine"
)

// subprogramIndex maps entry addresses to DWARF subprogram offsets.
func subprogramIndex(d *dwarf.Data) map[engine.Address]dwarf.Offset {
	index := make(map[engine.Address]dwarf.Offset)
	if d == nil {
		return index
	}

	reader := d.Reader()
	for {
		entry, err := reader.Next()
		if err != nil || entry == nil {
			break
		}
		if entry.Tag != dwarf.TagSubprogram {
			continue
		}
		lowPC, ok := entry.Val(dwarf.AttrLowpc).(uint64)
		if !ok {
			continue
		}
		if _, seen := index[engine.Address(lowPC)]; !seen {
			index[engine.Address(lowPC)] = entry.Offset
		}
	}
	return index
}

// readSignature builds the prototype of the subprogram at off. Go marks
// result parameters with DW_AT_variable_parameter; they become the return
// type instead of arguments.
func readSignature(d *dwarf.Data, off dwarf.Offset, proc engine.Procedure) (*engine.Signature, error) {
	reader := d.Reader()
	reader.Seek(off)
	fn, err := reader.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to read subprogram at %#x: %w", off, err)
	}
	if fn == nil || fn.Tag != dwarf.TagSubprogram {
		return nil, fmt.Errorf("no subprogram at %#x", off)
	}

	sig := &engine.Signature{
		Address:    proc.Entry,
		Name:       proc.Name,
		Parameters: []engine.Parameter{},
		Recovered:  true,
	}
	if name, ok := fn.Val(dwarf.AttrName).(string); ok && name != "" {
		sig.Name = name
	}

	var results []string
	if _, ok := fn.Val(dwarf.AttrType).(dwarf.Offset); ok {
		results = append(results, typeName(d, fn, 0))
	}

	if fn.Children {
		depth := 0
		for {
			entry, err := reader.Next()
			if err != nil || entry == nil {
				break
			}
			if entry.Tag == 0 {
				if depth == 0 {
					break
				}
				depth--
				continue
			}
			if depth == 0 && entry.Tag == dwarf.TagFormalParameter {
				typ := typeName(d, entry, 0)
				if isResult, _ := entry.Val(dwarf.AttrVarParam).(bool); isResult {
					results = append(results, typ)
				} else {
					sig.Parameters = append(sig.Parameters, engine.Parameter{Name: entryName(entry), Type: typ})
				}
			}
			if entry.Children {
				depth++
			}
		}
	}

	switch len(results) {
	case 0:
		sig.ReturnType = "void"
	case 1:
		sig.ReturnType = results[0]
	default:
		sig.ReturnType = "(" + strings.Join(results, ", ") + ")"
	}
	sig.Text = formatSignature(sig)
	return sig, nil
}

// synthesizedSignature is used when no debug information describes proc.
func synthesizedSignature(proc engine.Procedure) *engine.Signature {
	sig := &engine.Signature{
		Address:    proc.Entry,
		Name:       proc.Name,
		Parameters: []engine.Parameter{},
	}
	sig.Text = proc.Name + "()"
	return sig
}

func formatSignature(sig *engine.Signature) string {
	params := make([]string, len(sig.Parameters))
	for i, p := range sig.Parameters {
		params[i] = strings.TrimSpace(p.Type + " " + p.Name)
	}
	args := strings.Join(params, ", ")
	if args == "" {
		args = "void"
	}
	return fmt.Sprintf("%s %s(%s)", sig.ReturnType, sig.Name, args)
}

func entryName(entry *dwarf.Entry) string {
	if name, ok := entry.Val(dwarf.AttrName).(string); ok {
		return name
	}
	return ""
}

// typeName renders the type referenced by entry in C-like notation.
func typeName(d *dwarf.Data, entry *dwarf.Entry, depth int) string {
	typeOffset, ok := entry.Val(dwarf.AttrType).(dwarf.Offset)
	if !ok {
		return "void"
	}
	if depth > 8 {
		return "..."
	}

	reader := d.Reader()
	reader.Seek(typeOffset)
	typeEntry, err := reader.Next()
	if err != nil || typeEntry == nil {
		return "<unknown>"
	}

	switch typeEntry.Tag {
	case dwarf.TagPointerType:
		if name, ok := typeEntry.Val(dwarf.AttrName).(string); ok && name != "" {
			return name
		}
		return typeName(d, typeEntry, depth+1) + " *"
	case dwarf.TagConstType:
		return "const " + typeName(d, typeEntry, depth+1)
	case dwarf.TagVolatileType:
		return "volatile " + typeName(d, typeEntry, depth+1)
	case dwarf.TagArrayType:
		return typeName(d, typeEntry, depth+1) + "[]"
	}

	if name, ok := typeEntry.Val(dwarf.AttrName).(string); ok && name != "" {
		switch typeEntry.Tag {
		case dwarf.TagStructType:
			return "struct " + name
		case dwarf.TagUnionType:
			return "union " + name
		case dwarf.TagEnumerationType:
			return "enum " + name
		}
		return name
	}
	return fmt.Sprintf("<%s>", typeEntry.Tag)
}
