// Package capture records USB bulk traffic to a compressed file and plays
// it back as a [usb.Device].
//
// A capture is a zstd stream holding a fixed signature followed by one
// record per transfer:
//
//	offset  size  field
//	0       1     direction (0 = IN, 1 = OUT)
//	1       8     nanoseconds since the capture began, little-endian
//	9       4     payload length, little-endian
//	13      n     payload
//
// IN records are stored exactly as the device returned them, so a header
// and its body are two records. [Tap] wraps a live device and writes every
// transfer; [Replay] serves the IN records of a capture back to a session.
package capture
