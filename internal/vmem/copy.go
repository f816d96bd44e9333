package vmem

import "fmt"

// CopyIn copies len(dst) bytes from user virtual address uaddr into dst,
// crossing page boundaries as needed and failing if any page in the
// range is unmapped or not user-readable.
func (as *AddressSpace) CopyIn(dst []byte, uaddr VirtAddr) error {
	remaining := dst
	addr := uaddr

	for len(remaining) > 0 {
		vpn := addr.VPNOf()

		frame, flags, err := as.pageTable.Translate(vpn)
		if err != nil {
			return fmt.Errorf("%w: copy in at %#x: %w", errPageTable, addr, err)
		}

		if !flags.Has(FlagU) || !flags.Has(FlagR) {
			return fmt.Errorf("%w: copy in at %#x", ErrAccessControl, addr)
		}

		pageOff := int(addr.PageOffset())
		n := PageSize - pageOff

		if n > len(remaining) {
			n = len(remaining)
		}

		as.mem.ReadAt(frame, remaining[:n], pageOff)

		remaining = remaining[n:]
		addr += VirtAddr(n)
	}

	return nil
}

// CopyOut copies src into user virtual address uaddr, failing if any
// covered page is unmapped or not user-writable.
func (as *AddressSpace) CopyOut(uaddr VirtAddr, src []byte) error {
	remaining := src
	addr := uaddr

	for len(remaining) > 0 {
		vpn := addr.VPNOf()

		frame, flags, err := as.pageTable.Translate(vpn)
		if err != nil {
			return fmt.Errorf("%w: copy out at %#x: %w", errPageTable, addr, err)
		}

		if !flags.Has(FlagU) || !flags.Has(FlagW) {
			return fmt.Errorf("%w: copy out at %#x", ErrAccessControl, addr)
		}

		pageOff := int(addr.PageOffset())
		n := PageSize - pageOff

		if n > len(remaining) {
			n = len(remaining)
		}

		as.mem.WriteAt(frame, remaining[:n], pageOff)

		remaining = remaining[n:]
		addr += VirtAddr(n)
	}

	return nil
}

// maxCString bounds how far CopyInString will read looking for a NUL
// terminator, guarding against a malicious or buggy task pointing it at
// an unbounded mapped region.
const maxCString = 4096

// CopyInString reads a NUL-terminated string from user memory starting at
// uaddr, stopping at the terminator or after maxCString bytes, whichever
// comes first.
func (as *AddressSpace) CopyInString(uaddr VirtAddr) (string, error) {
	var out []byte

	addr := uaddr

	for len(out) < maxCString {
		var b [1]byte
		if err := as.CopyIn(b[:], addr); err != nil {
			return "", err
		}

		if b[0] == 0 {
			return string(out), nil
		}

		out = append(out, b[0])
		addr++
	}

	return "", fmt.Errorf("%w: string exceeds %d bytes unterminated", errPageTable, maxCString)
}
