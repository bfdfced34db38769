package bitfield

// PageFlags packs a page-table entry's software-visible flags, the way
// the teacher's `page.go` tracked allocated/kernel pages. Talon generalizes
// Allocated/KernelPage to the full R/W/X permission set plus present and
// copy-relevant bits used by internal/paging.
type PageFlags struct {
	Present    bool   `bitfield:",1"`
	Read       bool   `bitfield:",1"`
	Write      bool   `bitfield:",1"`
	Execute    bool   `bitfield:",1"`
	UserPage   bool   `bitfield:",1"`
	Reserved   uint32 `bitfield:",27"`
}

// PackPageFlags packs flags into a 32-bit word.
func PackPageFlags(flags PageFlags) (uint32, error) {
	packed, err := Pack(flags, &Config{NumBits: 32})
	return uint32(packed), err
}

// UnpackPageFlags is the inverse of PackPageFlags.
func UnpackPageFlags(packed uint32) PageFlags {
	var flags PageFlags
	// A PageFlags value is always a valid unpack target (fixed layout,
	// no field can fail to assign), so the error is unreachable.
	_ = Unpack(&flags, uint64(packed))
	return flags
}
