package entry

// SetShuffleFunc replaces the shuffle used by SelectRandom until restore is called.
func SetShuffleFunc(f func(n int, swap func(i, j int))) (restore func()) {
	orig := shuffleFunc
	shuffleFunc = f
	return func() { shuffleFunc = orig }
}
