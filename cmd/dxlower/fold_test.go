package main

import "testing"

func TestFoldIntrinsic(t *testing.T) {
	tests := []struct {
		name string
		args []string
		typ  string
		want string
	}{
		{"sqrt", []string{"4"}, "float", "2"},
		{"max", []string{"3,-1", "2,2"}, "int", "3, 2"},
		{"clamp", []string{"7", "0", "5"}, "double", "5"},
		{"isnan", []string{"1"}, "float", "false"},
	}
	for _, tt := range tests {
		got, err := foldIntrinsic(tt.name, tt.args, tt.typ, 2021)
		if err != nil {
			t.Errorf("%s%v: %v", tt.name, tt.args, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s%v = %q, want %q", tt.name, tt.args, got, tt.want)
		}
	}
}

func TestFoldIntrinsicErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		typ  string
	}{
		{"nosuch", []string{"1"}, "float"},
		{"sqrt", []string{"x"}, "float"},
		{"sqrt", []string{"1"}, "quad"},
		{"max", []string{"1,2", "3"}, "int"},
		{"sqrt", []string{"1", "2"}, "float"},
	}
	for _, tt := range tests {
		if got, err := foldIntrinsic(tt.name, tt.args, tt.typ, 2021); err == nil {
			t.Errorf("%s%v as %s folded to %q", tt.name, tt.args, tt.typ, got)
		}
	}
}
