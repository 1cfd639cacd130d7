package escrow

// Split computes the initial-payment and remainder amounts for a total and a
// percent in [0,100]. The initial amount truncates toward zero; the remainder
// is always total minus initial, so the two sum to total for every input and
// truncation never leaks value. The same function runs at creation time to
// estimate and at release time to execute.
func Split(total int64, percent int) (initial, remainder int64) {
	initial = total * int64(percent) / 100
	return initial, total - initial
}
