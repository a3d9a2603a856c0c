package vlan

import (
	"reflect"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    ID
		wantErr bool
	}{
		{"1", 1, false},
		{"100", 100, false},
		{"0100", 100, false},
		{"4094", 4094, false},
		{"0", 0, true},
		{"4095", 0, true},
		{"-5", 0, true},
		{"+100", 0, true},
		{"-100", 0, true},
		{"", 0, true},
		{"abc", 0, true},
		{"10a", 0, true},
		{" 100", 0, true},
		{"README.md", 0, true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNewSetSortsAndDedups(t *testing.T) {
	s := NewSet(105, 100, 105, 3)

	if s.Len() != 3 {
		t.Fatalf("expected 3 ids, got %d", s.Len())
	}
	if got, want := s.IDs(), []ID{3, 100, 105}; !reflect.DeepEqual(got, want) {
		t.Errorf("IDs() = %v, want %v", got, want)
	}
	if got, want := s.Descending(), []ID{105, 100, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("Descending() = %v, want %v", got, want)
	}
	if s.Max() != 105 {
		t.Errorf("expected max 105, got %d", s.Max())
	}
	if !s.Has(100) || s.Has(101) {
		t.Error("Has reported wrong membership")
	}
	if s.String() != "[3,100,105]" {
		t.Errorf("unexpected String(): %s", s.String())
	}
}

func TestSetIsReadOnly(t *testing.T) {
	s := NewSet(1, 2)
	ids := s.IDs()
	ids[0] = 99

	if s.IDs()[0] != 1 {
		t.Error("mutating IDs() result changed the set")
	}
}

func TestEmptySet(t *testing.T) {
	var s Set
	if s.Len() != 0 || s.Max() != 0 {
		t.Error("zero Set should be empty")
	}
	if len(s.IDs()) != 0 || len(s.Descending()) != 0 {
		t.Error("zero Set should yield no ids")
	}
}
