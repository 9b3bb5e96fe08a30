package spi

// plan compiles a batch of logical operations into wire segments. Unequal
// transfer buffers split into a duplex segment over the common length plus
// a one-directional tail, so neither side is truncated and no bytes cross
// between the two buffers. In-place transfers snapshot their outgoing
// bytes here, before any kernel call, so the incoming data can never
// overwrite a byte that hasn't been consumed as outgoing yet.
func plan(ops []Operation, fill byte) []Segment {
	segments := make([]Segment, 0, len(ops))
	for _, op := range ops {
		switch op.kind {
		case opRead:
			if len(op.rx) == 0 {
				continue
			}
			segments = append(segments, readSegment(op.rx, fill))
		case opWrite:
			if len(op.tx) == 0 {
				continue
			}
			segments = append(segments, Segment{TX: op.tx})
		case opTransfer:
			n := len(op.tx)
			if len(op.rx) < n {
				n = len(op.rx)
			}
			if n > 0 {
				segments = append(segments, Segment{TX: op.tx[:n], RX: op.rx[:n]})
			}
			if len(op.tx) > n {
				segments = append(segments, Segment{TX: op.tx[n:]})
			}
			if len(op.rx) > n {
				segments = append(segments, readSegment(op.rx[n:], fill))
			}
		case opTransferInPlace:
			if len(op.rx) == 0 {
				continue
			}
			snapshot := make([]byte, len(op.rx))
			copy(snapshot, op.rx)
			segments = append(segments, Segment{TX: snapshot, RX: op.rx})
		}
	}
	return segments
}

// readSegment builds a read-only segment. A zero fill byte is what the
// kernel drives anyway when no outgoing buffer is supplied, so we only
// materialize a fill buffer for non-zero fills.
func readSegment(rx []byte, fill byte) Segment {
	if fill == 0 {
		return Segment{RX: rx}
	}
	tx := make([]byte, len(rx))
	for i := range tx {
		tx[i] = fill
	}
	return Segment{TX: tx, RX: rx}
}
