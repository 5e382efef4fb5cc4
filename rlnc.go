package strata

//
// RLNC codec: GF(256) arithmetic and a sliding-window Random Linear
// Network Coding encoder/decoder used as the FEC layer.
//
// The field uses the primitive polynomial 0x11D with generator 2; the
// exact field and a seedable PRNG are spec requirements for bit-exact,
// reproducible coefficient sequences, so both are hand-implemented
// rather than pulled from a general-purpose galois-field package.
//

// --- GF(256) --------------------------------------------------------

const gfPrimPoly = 0x11D

var gfExpTable [512]byte // double length to avoid modulo in multiply
var gfLogTable [256]byte

func init() {
	x := 1
	for i := 0; i < 255; i++ {
		gfExpTable[i] = byte(x)
		gfLogTable[x] = byte(i)
		x <<= 1
		if x&0x100 != 0 {
			x ^= gfPrimPoly
		}
	}
	for i := 255; i < 512; i++ {
		gfExpTable[i] = gfExpTable[i-255]
	}
}

// gfMul multiplies two GF(256) elements in O(1).
func gfMul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return gfExpTable[int(gfLogTable[a])+int(gfLogTable[b])]
}

// gfInv returns the multiplicative inverse of a nonzero GF(256) element.
func gfInv(a byte) byte {
	if a == 0 {
		return 0
	}
	return gfExpTable[255-int(gfLogTable[a])]
}

// gfDiv divides a by a nonzero GF(256) element b.
func gfDiv(a, b byte) byte {
	if a == 0 {
		return 0
	}
	return gfExpTable[(int(gfLogTable[a])+255-int(gfLogTable[b]))%255]
}

// --- xoshiro256** PRNG ----------------------------------------------

// xoshiro256ss is a seedable xoshiro256** generator used to draw the
// RLNC encoder's coding coefficients deterministically.
type xoshiro256ss struct {
	s [4]uint64
}

// newXoshiro256ss seeds the generator using splitmix64, the standard
// way to expand a single 64-bit seed into xoshiro's 256 bits of state.
func newXoshiro256ss(seed uint64) *xoshiro256ss {
	var sm uint64 = seed
	next := func() uint64 {
		sm += 0x9E3779B97F4A7C15
		z := sm
		z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
		z = (z ^ (z >> 27)) * 0x94D049BB133111EB
		return z ^ (z >> 31)
	}
	g := &xoshiro256ss{}
	for i := range g.s {
		g.s[i] = next()
	}
	return g
}

func rotl(x uint64, k uint) uint64 {
	return (x << k) | (x >> (64 - k))
}

// next returns the next 64-bit output of the generator.
func (g *xoshiro256ss) next() uint64 {
	result := rotl(g.s[1]*5, 7) * 9

	t := g.s[1] << 17

	g.s[2] ^= g.s[0]
	g.s[3] ^= g.s[1]
	g.s[1] ^= g.s[2]
	g.s[0] ^= g.s[3]

	g.s[2] ^= t

	g.s[3] = rotl(g.s[3], 45)

	return result
}

// nonzeroByte draws a uniform nonzero GF(256) element.
func (g *xoshiro256ss) nonzeroByte() byte {
	for {
		b := byte(g.next())
		if b != 0 {
			return b
		}
	}
}

// --- Encoder ----------------------------------------------------------

type rlncSourceSymbol struct {
	seq  uint64
	data []byte
}

// RLNCEncoder holds a sliding window of up to W source symbols and
// produces coded repair symbols as random linear combinations of them.
type RLNCEncoder struct {
	window []rlncSourceSymbol
	maxLen int
	rng    *xoshiro256ss
}

// NewRLNCEncoder creates an encoder with window capacity w, seeded with seed.
func NewRLNCEncoder(w int, seed uint64) *RLNCEncoder {
	return &RLNCEncoder{
		window: make([]rlncSourceSymbol, 0, w),
		maxLen: w,
		rng:    newXoshiro256ss(seed),
	}
}

// AddSource appends a source symbol to the window, evicting the oldest
// entry if the window is full.
func (e *RLNCEncoder) AddSource(seq uint64, data []byte) {
	if len(e.window) >= e.maxLen {
		e.window = e.window[1:]
	}
	e.window = append(e.window, rlncSourceSymbol{seq: seq, data: data})
}

// Acknowledge slides the window forward past seq: every source symbol
// with sequence <= seq is dropped from future coded generations.
func (e *RLNCEncoder) Acknowledge(seq uint64) {
	i := 0
	for i < len(e.window) && e.window[i].seq <= seq {
		i++
	}
	e.window = e.window[i:]
}

// GenerateRepair produces one coded symbol over the current window. It
// returns ok=false if the window is empty.
func (e *RLNCEncoder) GenerateRepair() (sym FecRepairPacket, ok bool) {
	n := len(e.window)
	if n == 0 {
		return FecRepairPacket{}, false
	}

	maxLen := 0
	for _, s := range e.window {
		if len(s.data) > maxLen {
			maxLen = len(s.data)
		}
	}

	coeffs := make([]byte, n)
	for i := range coeffs {
		coeffs[i] = e.rng.nonzeroByte()
	}

	data := make([]byte, maxLen)
	for i, s := range e.window {
		c := coeffs[i]
		for j := 0; j < len(s.data); j++ {
			data[j] ^= gfMul(c, s.data[j])
		}
	}

	return FecRepairPacket{
		Coefficients: coeffs,
		WindowStart:  e.window[0].seq,
		WindowLen:    uint64(n),
		Data:         data,
	}, true
}

// --- Decoder ------------------------------------------------------------

// rlncRow is one row of the decoder's augmented matrix: coefficients
// against the base of the current window, plus the row's data vector.
// A row with exactly one nonzero coefficient (value 1) at position i
// and no others is a fully-decoded source symbol for window[i].
type rlncRow struct {
	coeffs []byte
	data   []byte
}

// RLNCDecoder reconstructs source symbols from a mix of directly
// received symbols and coded repair symbols via Gaussian elimination.
// It tolerates duplicate coded rows, variable-length symbols (shorter
// symbols are zero-padded), and arbitrary repair arrival order.
type RLNCDecoder struct {
	windowStart uint64
	known       map[uint64][]byte // seq -> data, for symbols received or recovered directly
	rows        []rlncRow         // pending rows awaiting reduction, indexed over [windowStart, windowStart+len)
	width       int               // current number of columns tracked (grows as coded rows reference later seqs)
}

// NewRLNCDecoder creates an empty decoder.
func NewRLNCDecoder() *RLNCDecoder {
	return &RLNCDecoder{known: make(map[uint64][]byte)}
}

// AddSource records a directly received source symbol as known.
func (d *RLNCDecoder) AddSource(seq uint64, data []byte) {
	d.known[seq] = data
}

// AddCoded ingests a coded repair symbol, reducing it against currently
// known symbols before storing it for later elimination passes.
func (d *RLNCDecoder) AddCoded(windowStart, windowLen uint64, coeffs, data []byte) {
	n := int(windowLen)
	row := rlncRow{
		coeffs: make([]byte, n),
		data:   append([]byte(nil), data...),
	}
	copy(row.coeffs, coeffs)

	// reduce against known symbols: subtract (xor) coeff_i * known[seq_i]
	// wherever we already know that column's value, zeroing the column.
	for i := 0; i < n; i++ {
		seq := windowStart + uint64(i)
		c := row.coeffs[i]
		if c == 0 {
			continue
		}
		if kd, ok := d.known[seq]; ok {
			xorScaled(row.data, kd, c)
			row.coeffs[i] = 0
		}
	}

	if isZeroRow(row.coeffs) {
		return // linearly dependent on what we already know; harmless
	}

	d.rows = append(d.rows, row)
}

// xorScaled does data ^= coeff * src, zero-padding the shorter operand.
func xorScaled(data, src []byte, coeff byte) {
	n := len(data)
	if len(src) < n {
		n = len(src)
	}
	for j := 0; j < n; j++ {
		data[j] ^= gfMul(coeff, src[j])
	}
}

func isZeroRow(coeffs []byte) bool {
	for _, c := range coeffs {
		if c != 0 {
			return false
		}
	}
	return true
}

// TryRecover runs Gaussian elimination over the pending rows and
// against each other's pivots, emitting every newly recovered (seq,
// data) pair. Already-known symbols are never re-emitted.
func (d *RLNCDecoder) TryRecover() []struct {
	Seq  uint64
	Data []byte
} {
	var recovered []struct {
		Seq  uint64
		Data []byte
	}

	progress := true
	for progress {
		progress = false

		// eliminate pairwise to expose unit rows
		for i := 0; i < len(d.rows); i++ {
			pivotCol := firstNonzero(d.rows[i].coeffs)
			if pivotCol < 0 {
				continue
			}
			// normalise so the pivot coefficient is 1
			pv := d.rows[i].coeffs[pivotCol]
			if pv != 1 {
				inv := gfInv(pv)
				for k := range d.rows[i].coeffs {
					d.rows[i].coeffs[k] = gfMul(d.rows[i].coeffs[k], inv)
				}
				for k := range d.rows[i].data {
					d.rows[i].data[k] = gfMul(d.rows[i].data[k], inv)
				}
			}
			for j := 0; j < len(d.rows); j++ {
				if j == i {
					continue
				}
				c := d.rows[j].coeffs[pivotCol]
				if c == 0 {
					continue
				}
				xorScaled(d.rows[j].data, d.rows[i].data, c)
				for k := range d.rows[j].coeffs {
					d.rows[j].coeffs[k] ^= gfMul(c, d.rows[i].coeffs[k])
				}
			}
		}

		// harvest unit rows (a single nonzero coefficient equal to 1)
		kept := d.rows[:0]
		for _, row := range d.rows {
			col := firstNonzero(row.coeffs)
			if col >= 0 && isUnitRow(row.coeffs, col) {
				seq := d.seqForColumn(col, row)
				if _, already := d.known[seq]; !already {
					d.known[seq] = row.data
					recovered = append(recovered, struct {
						Seq  uint64
						Data []byte
					}{Seq: seq, Data: row.data})
					progress = true
				}
				continue // drop the now-fully-solved row
			}
			if col < 0 {
				continue // zero row, drop
			}
			kept = append(kept, row)
		}
		d.rows = kept
	}

	return recovered
}

// seqForColumn resolves a coefficient column index to an absolute
// sequence number: column col is d.windowStart+col, where d.windowStart
// is the base last set by [RLNCDecoder.SetWindowStart].
func (d *RLNCDecoder) seqForColumn(col int, _ rlncRow) uint64 {
	return d.windowStart + uint64(col)
}

func firstNonzero(coeffs []byte) int {
	for i, c := range coeffs {
		if c != 0 {
			return i
		}
	}
	return -1
}

func isUnitRow(coeffs []byte, pivot int) bool {
	for i, c := range coeffs {
		if i == pivot {
			continue
		}
		if c != 0 {
			return false
		}
	}
	return coeffs[pivot] == 1
}

// SetWindowStart pins the absolute sequence base that column 0
// corresponds to for the generation currently being decoded. The
// [Receiver] calls this with each [FecRepairPacket]'s WindowStart before
// adding that packet's coded row.
func (d *RLNCDecoder) SetWindowStart(windowStart uint64) {
	d.windowStart = windowStart
}
