package agent

import "testing"

func TestSplitThinking(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantClean    string
		wantThinking string
	}{
		{
			name:      "no tags",
			content:   "just a plain answer",
			wantClean: "just a plain answer",
		},
		{
			name:         "closed block",
			content:      "<think>let me see</think>the answer is 4",
			wantClean:    "the answer is 4",
			wantThinking: "let me see",
		},
		{
			name:         "thinking variant",
			content:      "<thinking>hmm</thinking>done",
			wantClean:    "done",
			wantThinking: "hmm",
		},
		{
			name:         "unclosed block swallows the rest",
			content:      "before <think>never closed, still going",
			wantClean:    "before",
			wantThinking: "never closed, still going",
		},
		{
			name:         "multiple blocks joined",
			content:      "<think>one</think>a<think>two</think>b",
			wantClean:    "ab",
			wantThinking: "one\n\ntwo",
		},
		{
			name:      "empty block dropped",
			content:   "<think>  </think>answer",
			wantClean: "answer",
		},
		{
			name:         "only thinking",
			content:      "<think>all of it</think>",
			wantClean:    "",
			wantThinking: "all of it",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clean, thinking := SplitThinking(tt.content)
			if clean != tt.wantClean {
				t.Errorf("clean = %q, want %q", clean, tt.wantClean)
			}
			if thinking != tt.wantThinking {
				t.Errorf("thinking = %q, want %q", thinking, tt.wantThinking)
			}
		})
	}
}
