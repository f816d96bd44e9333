package fsys

import "fmt"

// entryCount returns how many directory entries are currently stored,
// assuming every byte of the directory's data belongs to whole entries.
func (n *Inode) entryCount() (int, error) {
	size, err := n.Size()
	if err != nil {
		return 0, err
	}

	return size / dirEntrySize, nil
}

func (n *Inode) readEntry(i int) (dirEntry, error) {
	buf := make([]byte, dirEntrySize)
	if _, err := n.ReadAt(i*dirEntrySize, buf); err != nil {
		return dirEntry{}, err
	}

	return decodeDirEntry(buf), nil
}

// Find looks up name in the directory, returning its inode handle.
func (n *Inode) Find(name string) (*Inode, error) {
	if !n.IsDir() {
		return nil, ErrNotDirectory
	}

	count, err := n.entryCount()
	if err != nil {
		return nil, err
	}

	for i := 0; i < count; i++ {
		e, err := n.readEntry(i)
		if err != nil {
			return nil, err
		}

		if e.name == name {
			return &Inode{fs: n.fs, id: e.inodeID}, nil
		}
	}

	return nil, ErrNotFound
}

// Ls lists every entry name in the directory.
func (n *Inode) Ls() ([]string, error) {
	if !n.IsDir() {
		return nil, ErrNotDirectory
	}

	count, err := n.entryCount()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, count)

	for i := 0; i < count; i++ {
		e, err := n.readEntry(i)
		if err != nil {
			return nil, err
		}

		names = append(names, e.name)
	}

	return names, nil
}

func (n *Inode) appendEntry(e dirEntry) error {
	count, err := n.entryCount()
	if err != nil {
		return err
	}

	buf := make([]byte, dirEntrySize)
	e.encode(buf)

	_, err = n.WriteAt(count*dirEntrySize, buf)

	return err
}

// Create allocates a fresh, empty file inode and links it into the
// directory under name. It fails if name already exists.
func (n *Inode) Create(name string) (*Inode, error) {
	if !n.IsDir() {
		return nil, ErrNotDirectory
	}

	if len(name) > nameLimit {
		return nil, fmt.Errorf("%w: name %q exceeds %d bytes", errInode, name, nameLimit)
	}

	if _, err := n.Find(name); err == nil {
		return nil, fmt.Errorf("%w: %q already exists", errInode, name)
	}

	n.fs.mu.Lock()
	id, ok, err := n.fs.inodeBitmap.alloc()
	n.fs.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%w: inode table exhausted", errInode)
	}

	if err := n.fs.writeDiskInode(id, &diskInode{kind: TypeFile}); err != nil {
		return nil, err
	}

	if err := n.appendEntry(dirEntry{name: name, inodeID: id}); err != nil {
		return nil, err
	}

	return &Inode{fs: n.fs, id: id}, nil
}

// Link adds an additional directory entry pointing at an existing inode,
// implementing the link syscall's hard-link semantics (spec.md §4.8: link
// count is implicit, tracked only by how many directory entries reference
// an inode).
func (n *Inode) Link(name string, target *Inode) error {
	if !n.IsDir() {
		return ErrNotDirectory
	}

	if len(name) > nameLimit {
		return fmt.Errorf("%w: name %q exceeds %d bytes", errInode, name, nameLimit)
	}

	if _, err := n.Find(name); err == nil {
		return fmt.Errorf("%w: %q already exists", errInode, name)
	}

	return n.appendEntry(dirEntry{name: name, inodeID: target.id})
}

// Unlink removes name from the directory. If no other entry references the
// same inode, the inode's data is cleared and its slot freed -- matching
// the original's unlink, which never reference-counts beyond the
// directory scan itself.
func (n *Inode) Unlink(name string) error {
	if !n.IsDir() {
		return ErrNotDirectory
	}

	count, err := n.entryCount()
	if err != nil {
		return err
	}

	all := make([]dirEntry, count)

	for i := 0; i < count; i++ {
		e, err := n.readEntry(i)
		if err != nil {
			return err
		}

		all[i] = e
	}

	target := -1

	for i, e := range all {
		if e.name == name {
			target = i
			break
		}
	}

	if target < 0 {
		return ErrNotFound
	}

	targetID := all[target].inodeID
	refs := 0
	entries := make([]dirEntry, 0, count-1)

	for i, e := range all {
		if i == target {
			continue
		}

		entries = append(entries, e)

		if e.inodeID == targetID {
			refs++
		}
	}

	for i, e := range entries {
		buf := make([]byte, dirEntrySize)
		e.encode(buf)

		if _, err := n.WriteAt(i*dirEntrySize, buf); err != nil {
			return err
		}
	}

	if err := n.Truncate(len(entries) * dirEntrySize); err != nil {
		return err
	}

	if refs == 0 {
		target := &Inode{fs: n.fs, id: targetID}
		if err := target.Clear(); err != nil {
			return err
		}

		n.fs.mu.Lock()
		err := n.fs.inodeBitmap.dealloc(targetID)
		n.fs.mu.Unlock()

		if err != nil {
			return err
		}
	}

	return nil
}
