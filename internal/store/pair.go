package store

// OrderPair returns a and b with the lexically smaller id first.
func OrderPair(a, b string) (string, string) {
	if b < a {
		return b, a
	}
	return a, b
}

// PairKey is the order-independent key for a pair of participants.
func PairKey(a, b string) string {
	lo, hi := OrderPair(a, b)
	return lo + ":" + hi
}
