package repository

import (
	"reflect"
	"testing"
)

func TestParseIDList(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []uint
	}{
		{name: "empty", raw: "", want: nil},
		{name: "unordered", raw: "7,3,12", want: []uint{3, 7, 12}},
		{name: "skips junk", raw: "4, x,0,9", want: []uint{4, 9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseIDList(tt.raw); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseIDList(%q) = %v, want %v", tt.raw, got, tt.want)
			}
		})
	}
}
