// Package chaos corrupts well-formed messages so tests can check that the parser, the
// position mapper and the validator survive malformed input.
//
// Byte mutations model transport damage; structural mutations model the mistakes real
// interfaces make, such as lost terminators, swapped delimiters and stray escapes.
package chaos

import (
	"bytes"
	"math/rand"
)

// Corruptor applies seeded, reproducible corruptions.
type Corruptor struct {
	rng *rand.Rand
}

// NewCorruptor creates a new Corruptor with the given seed.
func NewCorruptor(seed int64) *Corruptor {
	return &Corruptor{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// Mutation is one kind of corruption.
type Mutation int

const (
	ByteFlip Mutation = iota
	ByteDelete
	ByteInsert
	Truncation
	DelimiterSwap
	TerminatorDrop
	TerminatorSwap
	SegmentDrop
	SegmentDuplicate
	EscapeInject
	HeaderMangle

	mutationCount
)

var mutationNames = [...]string{
	"byte-flip", "byte-delete", "byte-insert", "truncation", "delimiter-swap",
	"terminator-drop", "terminator-swap", "segment-drop", "segment-duplicate",
	"escape-inject", "header-mangle",
}

func (m Mutation) String() string {
	if m < 0 || m >= mutationCount {
		return "unknown"
	}
	return mutationNames[m]
}

// Mutations lists every mutation.
func Mutations() []Mutation {
	out := make([]Mutation, mutationCount)
	for i := range out {
		out[i] = Mutation(i)
	}
	return out
}

// delimiters are the bytes a default-encoded message is structured by.
var delimiters = []byte{'|', '^', '~', '\\', '&', '\r', '\n'}

// Corrupt applies one random mutation to a copy of input.
func (c *Corruptor) Corrupt(input []byte) []byte {
	return c.Apply(Mutation(c.rng.Intn(int(mutationCount))), input)
}

// Apply applies m to a copy of input.
func (c *Corruptor) Apply(m Mutation, input []byte) []byte {
	result := bytes.Clone(input)
	if len(result) == 0 {
		return c.insertRandomBytes(result)
	}
	switch m {
	case ByteFlip:
		return c.byteFlip(result)
	case ByteDelete:
		idx := c.rng.Intn(len(result))
		return append(result[:idx], result[idx+1:]...)
	case ByteInsert:
		idx := c.rng.Intn(len(result) + 1)
		return append(result[:idx], append([]byte{byte(c.rng.Intn(256))}, result[idx:]...)...)
	case Truncation:
		return result[:c.rng.Intn(len(result))]
	case DelimiterSwap:
		return c.delimiterSwap(result)
	case TerminatorDrop:
		return c.terminatorDrop(result)
	case TerminatorSwap:
		return c.terminatorSwap(result)
	case SegmentDrop:
		segs := splitSegments(result)
		if len(segs) < 2 {
			return result
		}
		i := c.rng.Intn(len(segs))
		return bytes.Join(append(segs[:i:i], segs[i+1:]...), nil)
	case SegmentDuplicate:
		segs := splitSegments(result)
		i := c.rng.Intn(len(segs))
		return bytes.Join(append(segs[:i+1:i+1], segs[i:]...), nil)
	case EscapeInject:
		idx := c.rng.Intn(len(result) + 1)
		esc := []string{`\`, `\F`, `\X0`, `\H\`, `\Z99\`, `\.br\`, `\E`}[c.rng.Intn(7)]
		return append(result[:idx], append([]byte(esc), result[idx:]...)...)
	case HeaderMangle:
		return c.headerMangle(result)
	default:
		return result
	}
}

// CorruptN applies n random corruptions to the input.
func (c *Corruptor) CorruptN(input []byte, n int) []byte {
	result := bytes.Clone(input)
	for range n {
		result = c.Corrupt(result)
	}
	return result
}

// GenerateCorpus generates a corpus of corrupted inputs from a valid input.
func (c *Corruptor) GenerateCorpus(valid []byte, count int) [][]byte {
	corpus := make([][]byte, count)
	for i := range corpus {
		// Vary the corruption intensity
		intensity := c.rng.Intn(5) + 1
		corpus[i] = c.CorruptN(valid, intensity)
	}
	return corpus
}

func (c *Corruptor) byteFlip(result []byte) []byte {
	// Flip 1-3 random bits
	n := c.rng.Intn(3) + 1
	for range n {
		idx := c.rng.Intn(len(result))
		result[idx] ^= byte(1 << c.rng.Intn(8))
	}
	return result
}

// positions returns the offsets of bytes in set.
func positions(data []byte, set []byte) []int {
	var out []int
	for i, b := range data {
		if bytes.IndexByte(set, b) >= 0 {
			out = append(out, i)
		}
	}
	return out
}

func (c *Corruptor) delimiterSwap(result []byte) []byte {
	at := positions(result, delimiters[:5])
	if len(at) == 0 {
		return result
	}
	result[at[c.rng.Intn(len(at))]] = delimiters[c.rng.Intn(5)]
	return result
}

func (c *Corruptor) terminatorDrop(result []byte) []byte {
	at := positions(result, []byte{'\r', '\n'})
	if len(at) == 0 {
		return result
	}
	idx := at[c.rng.Intn(len(at))]
	return append(result[:idx], result[idx+1:]...)
}

func (c *Corruptor) terminatorSwap(result []byte) []byte {
	at := positions(result, []byte{'\r', '\n'})
	if len(at) == 0 {
		return result
	}
	idx := at[c.rng.Intn(len(at))]
	switch c.rng.Intn(3) {
	case 0:
		result[idx] = '\r'
	case 1:
		result[idx] = '\n'
	default:
		return append(result[:idx], append([]byte("\r\n"), result[idx+1:]...)...)
	}
	return result
}

// headerMangle damages the header's field separator or encoding characters.
func (c *Corruptor) headerMangle(result []byte) []byte {
	i := bytes.Index(result, []byte("MSH"))
	if i < 0 || i+8 > len(result) {
		return result
	}
	idx := i + 3 + c.rng.Intn(5)
	switch c.rng.Intn(3) {
	case 0:
		result[idx] = result[i+3]
	case 1:
		result[idx] = 'A' + byte(c.rng.Intn(26))
	default:
		return append(result[:idx], result[idx+1:]...)
	}
	return result
}

func (c *Corruptor) insertRandomBytes(input []byte) []byte {
	n := c.rng.Intn(10) + 1
	b := make([]byte, n)
	c.rng.Read(b)
	return append(input, b...)
}

// splitSegments cuts data after every terminator run, keeping the terminators.
func splitSegments(data []byte) [][]byte {
	var out [][]byte
	start := 0
	for i := 0; i < len(data); i++ {
		if data[i] != '\r' && data[i] != '\n' {
			continue
		}
		for i+1 < len(data) && (data[i+1] == '\r' || data[i+1] == '\n') {
			i++
		}
		out = append(out, data[start:i+1])
		start = i + 1
	}
	if start < len(data) {
		out = append(out, data[start:])
	}
	return out
}
