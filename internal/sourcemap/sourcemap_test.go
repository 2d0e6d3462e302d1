package sourcemap

import "testing"

func lineRange(file string, line int) Range {
	return Range{
		Start: Location{File: file, Line: line, Column: 1},
		End:   Location{File: file, Line: line, Column: 80},
	}
}

func TestFindSourceLocationNearestPreceding(t *testing.T) {
	reg := NewRegistry()

	a := lineRange("a.src", 1)
	b := lineRange("a.src", 2)
	c := lineRange("a.src", 3)

	reg.AddMapping(a, 10, 5)
	reg.AddMapping(b, 20, 5)
	reg.AddMapping(c, 30, 5)

	tests := []struct {
		name    string
		address int64
		want    Range
		found   bool
	}{
		{"inside second interval", 22, b, true},
		{"before all mappings", 5, Range{}, false},
		{"exact start", 10, a, true},
		{"exact end of interval", 14, a, true},
		{"gap after first", 17, a, true},
		{"past last interval", 34, c, true},
		{"far past last interval", 1000, c, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := reg.FindSourceLocation(tt.address)
			if ok != tt.found {
				t.Fatalf("FindSourceLocation(%d) found = %v, want %v", tt.address, ok, tt.found)
			}
			if ok && got != tt.want {
				t.Errorf("FindSourceLocation(%d) = %+v, want %+v", tt.address, got, tt.want)
			}
		})
	}
}

func TestFindSourceLocationUnsortedInsertion(t *testing.T) {
	reg := NewRegistry()

	c := lineRange("a.src", 3)
	a := lineRange("a.src", 1)
	b := lineRange("a.src", 2)

	// Inserted out of address order on purpose.
	reg.AddMapping(c, 30, 5)
	reg.AddMapping(a, 10, 5)
	reg.AddMapping(b, 20, 5)

	got, ok := reg.FindSourceLocation(27)
	if !ok {
		t.Fatal("expected a match at address 27")
	}
	if got != b {
		t.Errorf("FindSourceLocation(27) = %+v, want %+v", got, b)
	}
}

func TestFindGeneratedAddress(t *testing.T) {
	reg := NewRegistry()

	a := lineRange("a.src", 5)
	reg.AddMapping(a, 100, 1)
	reg.AddMapping(a, 200, 1) // duplicate range, first wins

	addr, ok := reg.FindGeneratedAddress(a)
	if !ok {
		t.Fatal("expected address for stored range")
	}
	if addr != 100 {
		t.Errorf("FindGeneratedAddress = %d, want 100", addr)
	}

	if _, ok := reg.FindGeneratedAddress(lineRange("b.src", 5)); ok {
		t.Error("expected no address for unknown range")
	}
}

func TestAddressForLine(t *testing.T) {
	reg := NewRegistry()

	reg.AddMapping(Range{
		Start: Location{File: "a.src", Line: 3, Column: 1},
		End:   Location{File: "a.src", Line: 6, Column: 1},
	}, 40, 4)

	tests := []struct {
		file  string
		line  int
		want  int64
		found bool
	}{
		{"a.src", 3, 40, true},
		{"a.src", 6, 40, true}, // end line is inclusive
		{"a.src", 7, 0, false},
		{"b.src", 3, 0, false},
	}

	for _, tt := range tests {
		addr, ok := reg.AddressForLine(tt.file, tt.line)
		if ok != tt.found {
			t.Errorf("AddressForLine(%s, %d) found = %v, want %v", tt.file, tt.line, ok, tt.found)
			continue
		}
		if ok && addr != tt.want {
			t.Errorf("AddressForLine(%s, %d) = %d, want %d", tt.file, tt.line, addr, tt.want)
		}
	}
}

func TestMappingsSnapshot(t *testing.T) {
	reg := NewRegistry()
	reg.AddMapping(lineRange("a.src", 1), 0, 1)

	snap := reg.Mappings()
	if len(snap) != 1 {
		t.Fatalf("Mappings() len = %d, want 1", len(snap))
	}

	snap[0].Address = 999
	if got, _ := reg.FindGeneratedAddress(lineRange("a.src", 1)); got != 0 {
		t.Error("mutating the snapshot leaked into the registry")
	}
}

func TestLengthDefaultsToOne(t *testing.T) {
	reg := NewRegistry()
	reg.AddMapping(lineRange("a.src", 1), 10, 0)

	if _, ok := reg.FindSourceLocation(10); !ok {
		t.Error("address 10 should be covered with default length 1")
	}
	if got := reg.Mappings()[0].Length; got != 1 {
		t.Errorf("Length = %d, want 1", got)
	}
}
