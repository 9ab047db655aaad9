package audiocapture

// chunker reframes arbitrary-size device buffers into fixed-size blocks.
// It owns no synchronization; the caller serializes access.
type chunker struct {
	block int
	buf   []float32
}

func newChunker(block int) *chunker {
	return &chunker{block: block, buf: make([]float32, 0, block*2)}
}

// push appends samples and returns every complete block, each an independent
// copy. A trailing remainder stays buffered until enough samples arrive.
func (c *chunker) push(samples []float32) [][]float32 {
	c.buf = append(c.buf, samples...)

	var blocks [][]float32
	for len(c.buf) >= c.block {
		out := make([]float32, c.block)
		copy(out, c.buf[:c.block])
		blocks = append(blocks, out)

		n := copy(c.buf, c.buf[c.block:])
		c.buf = c.buf[:n]
	}
	return blocks
}

// pending returns the number of buffered samples not yet forming a block.
func (c *chunker) pending() int {
	return len(c.buf)
}
