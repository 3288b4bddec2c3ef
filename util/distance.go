package util

// Hamming computes the Hamming distance between two UMI sequences: the
// number of positions at which they differ. The comparison covers only the
// positions where both sequences are defined, so when the lengths differ the
// trailing bases of the longer sequence are ignored. A UMI truncated by
// upstream trimming therefore still compares against a full-length one.
func Hamming(s1, s2 []byte) (distance int) {
	n := len(s1)
	if len(s2) < n {
		n = len(s2)
	}
	for i := 0; i < n; i++ {
		if s1[i] != s2[i] {
			distance++
		}
	}
	return
}
