package llm

import "testing"

func TestLooksTruncated(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want bool
	}{
		{"complete object", `{"a":1}`, false},
		{"unterminated string", `{"a":"b`, true},
		{"unbalanced braces", `{"a":{"b":1}`, true},
		{"complete nested", `{"a":{"b":1}}`, false},
		{"empty", ``, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := looksTruncated(c.in); got != c.want {
				t.Errorf("looksTruncated(%q) = %v, want %v", c.in, got, c.want)
			}
		})
	}
}
