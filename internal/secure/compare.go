package secure

// Equal compares two secrets in time that depends only on the length of the
// longer input. Missing bytes of the shorter input count as zero and the
// lengths are folded into the accumulator, so a length mismatch never
// returns early.
func Equal(a, b []byte) bool {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}

	diff := uint64(len(a)) ^ uint64(len(b))
	for i := 0; i < n; i++ {
		var x, y byte
		if i < len(a) {
			x = a[i]
		}
		if i < len(b) {
			y = b[i]
		}
		diff |= uint64(x ^ y)
	}
	return diff == 0
}

func EqualString(a, b string) bool {
	return Equal([]byte(a), []byte(b))
}
