package tools

import (
	"reflect"
	"testing"
)

func TestRepairArgs(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want map[string]interface{}
	}{
		{
			name: "strict json",
			raw:  `{"path":"a.txt","count":3}`,
			want: map[string]interface{}{"path": "a.txt", "count": float64(3)},
		},
		{
			name: "empty input",
			raw:  "",
			want: map[string]interface{}{},
		},
		{
			name: "raw newline inside string",
			raw:  "{\"content\":\"line one\nline two\"}",
			want: map[string]interface{}{"content": "line one\nline two"},
		},
		{
			name: "trailing comma",
			raw:  `{"a":1,}`,
			want: map[string]interface{}{"a": float64(1)},
		},
		{
			name: "unquoted keys via json5",
			raw:  `{path: "a.txt"}`,
			want: map[string]interface{}{"path": "a.txt"},
		},
		{
			name: "single quotes via json5",
			raw:  `{'path': 'a.txt'}`,
			want: map[string]interface{}{"path": "a.txt"},
		},
		{
			name: "unterminated string",
			raw:  `{"path":"a.txt`,
			want: map[string]interface{}{"path": "a.txt"},
		},
		{
			name: "missing closing brace",
			raw:  `{"a":{"b":1}`,
			want: map[string]interface{}{"a": map[string]interface{}{"b": float64(1)}},
		},
		{
			name: "garbage falls back to empty object",
			raw:  `not json at all <<<>>>`,
			want: map[string]interface{}{},
		},
		{
			name: "json array falls back to empty object",
			raw:  `[1,2,3]`,
			want: map[string]interface{}{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RepairArgs(tt.raw)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("RepairArgs(%q) = %#v, want %#v", tt.raw, got, tt.want)
			}
		})
	}
}

func TestRepairJSON_ControlCharacters(t *testing.T) {
	got := repairJSON("{\"a\":\"x\ty\r\n\"}")
	want := `{"a":"x\ty\r\n"}`
	if got != want {
		t.Errorf("repairJSON = %q, want %q", got, want)
	}
}
