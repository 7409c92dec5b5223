package assistant

import "testing"

func TestExtractQuestion(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "mention prefix", text: "<@U123> how many users are there?", want: "how many users are there?"},
		{name: "surrounding whitespace", text: "<@U123>    list tables  ", want: "list tables"},
		{name: "first marker only", text: "<@U123> is a > b?", want: "is a > b?"},
		{name: "no marker keeps text verbatim", text: "  how many orders?  ", want: "  how many orders?  "},
		{name: "empty after marker", text: "<@U123>", want: ""},
		{name: "empty", text: "", want: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ExtractQuestion(tc.text); got != tc.want {
				t.Fatalf("ExtractQuestion(%q) = %q, want %q", tc.text, got, tc.want)
			}
		})
	}
}
