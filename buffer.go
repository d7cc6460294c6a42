package msgframe

// buffer is a reusable byte store with a logical size.
// It trusts the caller never to append past the size the current frame needs.
type buffer struct {
	data []byte
}

func (b *buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Grow makes room for n more bytes without changing the logical size.
func (b *buffer) Grow(n int) {
	if n <= cap(b.data)-len(b.data) {
		return
	}
	grown := make([]byte, len(b.data), len(b.data)+n)
	copy(grown, b.data)
	b.data = grown
}

func (b *buffer) Size() int {
	return len(b.data)
}

// Data returns the accumulated bytes. The slice is only valid until the
// next Append or Clear.
func (b *buffer) Data() []byte {
	return b.data
}

// Clear resets the logical size and keeps the storage.
func (b *buffer) Clear() {
	b.data = b.data[:0]
}

// bufferRole names what the active slot of a bufferPair is collecting.
type bufferRole int

const (
	headerRole bufferRole = iota
	payloadRole
)

func (r bufferRole) String() string {
	if r == headerRole {
		return "header"
	}
	return "payload"
}

// bufferPair holds two buffers so header and payload bytes never share
// storage. Exactly one slot is active; the other is empty.
type bufferPair struct {
	slots  [2]buffer
	active int
	role   bufferRole
}

func (p *bufferPair) current() *buffer {
	return &p.slots[p.active]
}

func (p *bufferPair) idle() *buffer {
	return &p.slots[1-p.active]
}

// swap activates the other slot for the other role and clears the slot
// being vacated.
func (p *bufferPair) swap() {
	vacated := p.active
	p.active = 1 - p.active
	p.slots[vacated].Clear()
	if p.role == headerRole {
		p.role = payloadRole
	} else {
		p.role = headerRole
	}
}

// reset returns the pair to its initial state: slot 0 collecting a header,
// both slots empty.
func (p *bufferPair) reset() {
	p.slots[0].Clear()
	p.slots[1].Clear()
	p.active = 0
	p.role = headerRole
}
