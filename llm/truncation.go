package llm

import "strings"

// looksTruncated reports whether s appears to be a JSON document that was
// cut off mid-structure: an unbalanced number of braces/brackets or an
// unterminated string literal. It is a heuristic used only to decide
// whether to run the continuation loop, not a validator.
func looksTruncated(s string) bool {
	depth := 0
	inString := false
	escaped := false
	for _, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
		}
	}
	return inString || depth != 0
}

// continuationPrompt builds the user prompt used to re-prompt the model with
// the partial output so far, asking it to continue from where it stopped.
func continuationPrompt(original, partial string) string {
	var b strings.Builder
	b.WriteString(original)
	b.WriteString("\n\nYour previous response was cut off before it finished. ")
	b.WriteString("Continue the JSON document from exactly where it stopped; do not repeat ")
	b.WriteString("any of the text already produced. Here is what you already produced:\n\n")
	b.WriteString(partial)
	return b.String()
}
