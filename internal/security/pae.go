package security

import "encoding/binary"

// PAE returns the pre-authentication encoding of header, message and
// footer:
//
//	LE64(3) || LE64(len(h)) || h || LE64(len(m)) || m || LE64(len(f)) || f
//
// Length-prefixing every piece means no two different (header, message,
// footer) splits can produce the same signed bytes. An empty footer is
// still encoded as LE64(0).
func PAE(header, message, footer []byte) []byte {
	return preAuthEncode(header, message, footer)
}

func preAuthEncode(pieces ...[]byte) []byte {
	size := 8
	for _, p := range pieces {
		size += 8 + len(p)
	}

	out := make([]byte, 0, size)
	out = binary.LittleEndian.AppendUint64(out, uint64(len(pieces)))
	for _, p := range pieces {
		out = binary.LittleEndian.AppendUint64(out, uint64(len(p)))
		out = append(out, p...)
	}
	return out
}
