package bitfield

import "testing"

func TestPackPageFlags(t *testing.T) {
	tests := []struct {
		name     string
		flags    PageFlags
		expected uint32
	}{
		{
			name:     "all flags false",
			flags:    PageFlags{},
			expected: 0,
		},
		{
			name:     "present and read",
			flags:    PageFlags{Present: true, Read: true},
			expected: 0b00011,
		},
		{
			name:     "all RWX user",
			flags:    PageFlags{Present: true, Read: true, Write: true, Execute: true, UserPage: true},
			expected: 0b11111,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			packed, err := PackPageFlags(tt.flags)
			if err != nil {
				t.Fatalf("PackPageFlags: %v", err)
			}
			if packed != tt.expected {
				t.Errorf("got 0x%x, want 0x%x", packed, tt.expected)
			}

			roundTrip := UnpackPageFlags(packed)
			if roundTrip != tt.flags {
				t.Errorf("round trip mismatch: got %+v, want %+v", roundTrip, tt.flags)
			}
		})
	}
}

func TestPackOverflow(t *testing.T) {
	type tooWide struct {
		V uint32 `bitfield:",2"`
	}

	if _, err := Pack(tooWide{V: 7}, nil); err == nil {
		t.Fatal("expected overflow error")
	}
}
