package wire

// MaxChunkNumberCount is the default ceiling on a single forward/
// forward_backward request's combined chunk weight before the caller's
// data must be split across multiple requests.
const MaxChunkNumberCount = 32768

// BatchData splits data into batches whose summed Datum.NumberCount
// never exceeds maxNumberCount, preserving order. A single datum whose
// own NumberCount already exceeds maxNumberCount is placed alone in its
// own batch rather than being rejected — the heuristic caps batching,
// it does not reject oversized individual examples.
func BatchData(data []Datum, maxNumberCount int) [][]Datum {
	if maxNumberCount <= 0 {
		maxNumberCount = MaxChunkNumberCount
	}
	var batches [][]Datum
	var current []Datum
	currentCount := 0
	for _, d := range data {
		n := d.NumberCount()
		if len(current) > 0 && currentCount+n > maxNumberCount {
			batches = append(batches, current)
			current = nil
			currentCount = 0
		}
		current = append(current, d)
		currentCount += n
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}
