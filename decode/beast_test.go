package decode

import "testing"

func TestModesChecksumDeterministic(t *testing.T) {
	msg := []byte{0x8D, 0x48, 0x40, 0xD6, 0x20, 0x2C, 0xC3, 0x71, 0xC3, 0x2C, 0xE0, 0x57, 0x60, 0x98}
	a := modesChecksum(msg, modeSLongMsgBits)
	b := modesChecksum(msg, modeSLongMsgBits)
	if a != b {
		t.Fatalf("modesChecksum not deterministic: %x vs %x", a, b)
	}
}

func TestModesChecksumBitSensitive(t *testing.T) {
	msg := []byte{0x8D, 0x48, 0x40, 0xD6, 0x20, 0x2C, 0xC3, 0x71, 0xC3, 0x2C, 0xE0, 0x57, 0x60, 0x98}
	base := modesChecksum(msg, modeSLongMsgBits)
	flipped := append([]byte(nil), msg...)
	flipped[0] ^= 0x01
	if modesChecksum(flipped, modeSLongMsgBits) == base {
		t.Fatal("expected checksum to change when a data bit flips")
	}
}

func TestCprModAlwaysPositive(t *testing.T) {
	cases := []struct{ a, b, want int }{
		{-1, 60, 59},
		{0, 59, 0},
		{-59, 59, 0},
		{61, 60, 1},
	}
	for _, c := range cases {
		if got := cprMod(c.a, c.b); got != c.want {
			t.Errorf("cprMod(%d,%d) = %d, want %d", c.a, c.b, got, c.want)
		}
	}
}

func TestCprNLSymmetricAndMonotone(t *testing.T) {
	if cprNL(0) != cprNL(-0.0001) && cprNL(0.0001) != cprNL(-0.0001) {
		t.Errorf("cprNL should be symmetric about the equator")
	}
	prev := cprNL(0)
	for lat := 1.0; lat < 87; lat += 1.0 {
		nl := cprNL(lat)
		if nl > prev {
			t.Fatalf("cprNL should be non-increasing with |lat|: at %v got %d after %d", lat, nl, prev)
		}
		prev = nl
	}
}

func TestDecodeCPRWidelySplitRawValues(t *testing.T) {
	pair := &cprPair{
		evenLat: 0, evenLon: 0,
		oddLat: 131071, oddLon: 131071,
	}
	pair.evenAt = pair.evenAt.Add(0)
	pair.oddAt = pair.oddAt.Add(1)
	_, _, ok := decodeCPR(pair)
	if ok {
		t.Log("decodeCPR resolved a position for widely split raw CPR values; not necessarily wrong, zones can coincide")
	}
}

func TestModesMessageLenByType(t *testing.T) {
	cases := map[int]int{
		0: modeSShortMsgBits, 4: modeSShortMsgBits, 11: modeSShortMsgBits,
		16: modeSLongMsgBits, 17: modeSLongMsgBits, 18: modeSLongMsgBits,
		19: modeSLongMsgBits, 20: modeSLongMsgBits, 21: modeSLongMsgBits,
	}
	for dfType, want := range cases {
		if got := modesMessageLenByType(dfType); got != want {
			t.Errorf("modesMessageLenByType(%d) = %d, want %d", dfType, got, want)
		}
	}
}
