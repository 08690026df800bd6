package llm

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrEmptyResponse = errors.New("empty completion")
	ErrMissingField  = errors.New("missing output field")
)

// Field is one named slot of a prompt. Inputs carry a Value; outputs are
// filled from the model's reply.
type Field struct {
	Name     string
	Desc     string
	Value    string
	Optional bool
}

// Prompt is a structured completion request: a fixed instruction, named
// inputs and the named outputs expected back.
type Prompt struct {
	Name        string
	Instruction string
	Inputs      []Field
	Outputs     []Field
}

// Completion holds the parsed output fields of one reply.
type Completion struct {
	Fields map[string]string
	Raw    string
}

func (c Completion) Get(name string) string {
	return c.Fields[name]
}

func marker(name string) string {
	return "[[ ## " + name + " ## ]]"
}

// Render lays the prompt out as marked sections the model is asked to
// mirror in its reply.
func (p Prompt) Render() string {
	var b strings.Builder

	b.WriteString(strings.TrimSpace(p.Instruction))
	b.WriteString("\n\n")

	b.WriteString("Input fields:\n")
	for _, f := range p.Inputs {
		fmt.Fprintf(&b, "- %s: %s\n", f.Name, f.Desc)
	}
	b.WriteString("Output fields:\n")
	for _, f := range p.Outputs {
		fmt.Fprintf(&b, "- %s: %s\n", f.Name, f.Desc)
	}
	b.WriteString("\n")

	for _, f := range p.Inputs {
		b.WriteString(marker(f.Name))
		b.WriteString("\n")
		b.WriteString(f.Value)
		b.WriteString("\n\n")
	}

	b.WriteString("Respond with each output field under its own marker, in this order, then finish with ")
	b.WriteString(marker("completed"))
	b.WriteString(".\n")
	for _, f := range p.Outputs {
		b.WriteString(marker(f.Name))
		b.WriteString("\n")
	}
	return b.String()
}

var markerRe = regexp.MustCompile(`\[\[\s*##\s*(\w+)\s*##\s*\]\]`)

// Parse extracts the output fields from a reply. Marked sections are
// preferred, then "name: value" lines. A prompt with a single required
// output accepts the whole reply as that field.
func (p Prompt) Parse(reply string) (Completion, error) {
	out := Completion{Fields: make(map[string]string), Raw: reply}
	if strings.TrimSpace(reply) == "" {
		return out, ErrEmptyResponse
	}

	wanted := make(map[string]bool, len(p.Outputs))
	for _, f := range p.Outputs {
		wanted[f.Name] = true
	}

	locs := markerRe.FindAllStringSubmatchIndex(reply, -1)
	for i, loc := range locs {
		name := reply[loc[2]:loc[3]]
		if !wanted[name] {
			continue
		}
		end := len(reply)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if _, seen := out.Fields[name]; !seen {
			out.Fields[name] = strings.TrimSpace(reply[loc[1]:end])
		}
	}

	if len(out.Fields) == 0 {
		parseLabelled(reply, wanted, out.Fields)
	}

	if len(out.Fields) == 0 {
		if only, ok := p.soleRequired(); ok {
			if text := strings.TrimSpace(markerRe.ReplaceAllString(reply, "")); text != "" {
				out.Fields[only] = text
			}
		}
	}

	for _, f := range p.Outputs {
		if f.Optional {
			continue
		}
		if _, ok := out.Fields[f.Name]; !ok {
			return out, fmt.Errorf("%w: %s", ErrMissingField, f.Name)
		}
	}
	return out, nil
}

func (p Prompt) soleRequired() (string, bool) {
	name, n := "", 0
	for _, f := range p.Outputs {
		if !f.Optional {
			name = f.Name
			n++
		}
	}
	return name, n == 1
}

// parseLabelled reads "name: value" blocks. A value runs until the next
// recognised label.
func parseLabelled(reply string, wanted map[string]bool, into map[string]string) {
	var current string
	var buf []string

	flush := func() {
		if current != "" {
			if _, seen := into[current]; !seen {
				into[current] = strings.TrimSpace(strings.Join(buf, "\n"))
			}
		}
		buf = buf[:0]
	}

	for _, line := range strings.Split(reply, "\n") {
		if name, rest, ok := strings.Cut(line, ":"); ok {
			key := normalizeLabel(name)
			if wanted[key] {
				flush()
				current = key
				buf = append(buf, rest)
				continue
			}
		}
		if current != "" {
			buf = append(buf, line)
		}
	}
	flush()
}

func normalizeLabel(s string) string {
	s = strings.Trim(strings.TrimSpace(s), "*#` ")
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, " ", "_")
}
