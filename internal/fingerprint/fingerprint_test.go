package fingerprint

import "testing"

func TestComputeNormalizesWhitespaceAndCase(t *testing.T) {
	a := Compute("  Free   NITRO\tgiveaway ", false, false)
	b := Compute("free nitro giveaway", false, false)
	if a.Hash != b.Hash {
		t.Fatalf("expected equal hashes, got %q vs %q", a.Text, b.Text)
	}
	if a.Text != "free nitro giveaway" {
		t.Fatalf("unexpected normalized text %q", a.Text)
	}
}

func TestComputeCaseSensitive(t *testing.T) {
	a := Compute("Hello There", true, false)
	b := Compute("hello there", true, false)
	if a.Hash == b.Hash {
		t.Fatalf("expected case-sensitive fingerprints to differ")
	}
}

func TestComputeCompatibilityForms(t *testing.T) {
	a := Compute("ｆｒｅｅ nitro", false, false)
	b := Compute("free nitro", false, false)
	if a.Hash != b.Hash {
		t.Fatalf("expected full-width text to normalize, got %q", a.Text)
	}
}

func TestComputeLinksOnly(t *testing.T) {
	a := Compute("check https://Example.com/a?utm_source=x and https://b.example.org now", false, true)
	b := Compute("https://b.example.org https://example.com/a totally different words", false, true)
	if a.Hash != b.Hash {
		t.Fatalf("expected link fingerprints to match: %q vs %q", a.Text, b.Text)
	}
	if empty := Compute("no links here", false, true); !empty.Empty() {
		t.Fatalf("expected empty fingerprint, got %q", empty.Text)
	}
}

func TestSimilarity(t *testing.T) {
	a := Compute("join my server for free nitro", false, false)
	b := Compute("join my server for free nitro!", false, false)
	c := Compute("completely unrelated message", false, false)

	if got := Similarity(a, a); got != 1 {
		t.Fatalf("expected 1, got %f", got)
	}
	if got := Similarity(a, b); got < 0.9 {
		t.Fatalf("expected near duplicate >= 0.9, got %f", got)
	}
	if got := Similarity(a, c); got > 0.5 {
		t.Fatalf("expected low similarity, got %f", got)
	}
	if got := Similarity(a, Fingerprint{}); got != 0 {
		t.Fatalf("expected 0 against empty, got %f", got)
	}
}

func TestMatchRequireIdentical(t *testing.T) {
	a := Compute("join my server for free nitro", false, false)
	b := Compute("join my server for free nitro!", false, false)
	if Match(a, b, 0.5, true) {
		t.Fatalf("expected identical mode to reject near duplicates")
	}
	if !Match(a, b, 0.8, false) {
		t.Fatalf("expected similarity mode to accept near duplicates")
	}
	if !Match(a, a, 1, true) {
		t.Fatalf("expected identical content to match")
	}
}
