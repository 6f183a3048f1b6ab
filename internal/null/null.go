// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Null package does nothing but correctly.
package null

// Null implementation of blockdev.Device. Usefull for measuring performance of
// underlying BUSE and buse library. Otherwise useless. Is contained in the
// same module to avoid duplication in BUSE code and configuration. It can also
// serve as a template for new layouts since it is the smallest implementation
// of the blockdev.Device interface.
type null struct {
	size int64
}

// NewNull returns device of size bytes which reads zeros and forgets writes.
func NewNull(size int64) *null {
	return &null{size: size}
}

func (n *null) ReadAt(p []byte, off int64) error {
	for i := range p {
		p[i] = 0
	}

	return nil
}

func (n *null) WriteAt(p []byte, off int64) error {
	return nil
}

func (n *null) Flush() error {
	return nil
}

func (n *null) Disconnect() {
}

func (n *null) Size() int64 {
	return n.size
}
