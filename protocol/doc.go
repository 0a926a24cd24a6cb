// Package protocol implements the framing and message codec spoken by
// CarPlay/Android Auto USB dongles.
//
// Every frame is a 16-byte header followed by a body:
//
//	offset  size  field
//	0       4     magic (0x55AA55AA)
//	4       4     body length
//	8       4     message type
//	12      4     message type, bitwise complemented
//
// All numeric fields are little-endian.
//
// Outbound messages implement [Sendable] and are serialised with [Marshal].
// Inbound bodies are decoded with [Decode], which dispatches on the header's
// message type and returns one of the [Readable] variants:
//
//	h, err := protocol.ParseHeader(hdr)
//	if err != nil {
//	    // errors.Is(err, pkg.ErrFraming)
//	}
//	msg, err := protocol.Decode(h, body)
//	switch m := msg.(type) {
//	case *protocol.Plugged:
//	    ...
//	case *protocol.VideoData:
//	    ...
//	}
package protocol
