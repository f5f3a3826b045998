package meshdoc

// textEdit is a single replace: delete `deleted` code points at `at`, then
// insert `inserted` there.
type textEdit struct {
	at       int
	deleted  int
	inserted string
}

// diffText calculates the edit needed to transform oldText into newText.
// It trims the common prefix and suffix, so a change in the middle of a long
// text produces a small edit instead of a full replace.
func diffText(oldText, newText string) textEdit {
	a := []rune(oldText)
	b := []rune(newText)

	prefix := 0
	for prefix < len(a) && prefix < len(b) && a[prefix] == b[prefix] {
		prefix++
	}

	// The suffix may not overlap the prefix on either side.
	suffix := 0
	for suffix < len(a)-prefix && suffix < len(b)-prefix &&
		a[len(a)-1-suffix] == b[len(b)-1-suffix] {
		suffix++
	}

	return textEdit{
		at:       prefix,
		deleted:  len(a) - prefix - suffix,
		inserted: string(b[prefix : len(b)-suffix]),
	}
}
