package domain

import "strings"

// Context carries values forward across the whole pipeline run. It is a
// plain map (not a typed struct) because the set of keys a prompt
// template references is configured dynamically by DynamicStep rows, not
// known at compile time.
type Context map[string]string

// Clone returns a shallow copy so a step can mutate its own view without
// racing the executor's canonical context.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Missing reports the first required key that is absent or empty, for the
// required_context_variables gate (step is SKIPPED, not failed, when this
// returns ok=true).
func Missing(ctx Context, required []string) (key string, ok bool) {
	for _, k := range required {
		if strings.TrimSpace(ctx[k]) == "" {
			return k, true
		}
	}
	return "", false
}

// Substitute replaces every {name} placeholder in template with ctx[name],
// case-sensitive, leaving unknown placeholders untouched. input is
// substituted for the conventional {input_text} placeholder.
func Substitute(template, input string, ctx Context) string {
	var b strings.Builder
	b.Grow(len(template))

	i := 0
	for i < len(template) {
		open := strings.IndexByte(template[i:], '{')
		if open == -1 {
			b.WriteString(template[i:])
			break
		}
		open += i
		close := strings.IndexByte(template[open:], '}')
		if close == -1 {
			b.WriteString(template[i:])
			break
		}
		close += open

		b.WriteString(template[i:open])
		name := template[open+1 : close]

		switch {
		case name == "input_text":
			b.WriteString(input)
		default:
			if val, ok := ctx[name]; ok {
				b.WriteString(val)
			} else {
				// Unknown placeholder: keep it verbatim so a misconfigured
				// step is visible in its own output rather than silently
				// dropping text.
				b.WriteString(template[open : close+1])
			}
		}
		i = close + 1
	}
	return b.String()
}
