package hlmodule

import (
	"bytes"
	"testing"
)

const maxFuzzInput = 1 << 16

func FuzzDecode(f *testing.F) {
	var buf bytes.Buffer
	if err := sample(f).Encode(&buf); err != nil {
		f.Fatalf("Encode: %v", err)
	}
	valid := buf.Bytes()
	f.Add(valid)
	f.Add(valid[:len(valid)/2])
	f.Add([]byte{})
	f.Add([]byte{0x80})

	f.Fuzz(func(t *testing.T, input []byte) {
		if len(input) > maxFuzzInput {
			input = input[:maxFuzzInput]
		}
		hm, err := Decode(bytes.NewReader(input))
		if err != nil {
			return
		}
		var out bytes.Buffer
		if err := hm.Encode(&out); err != nil {
			t.Fatalf("decoded module does not re-encode: %v", err)
		}
		if _, err := Decode(&out); err != nil {
			t.Fatalf("re-encoded module does not decode: %v", err)
		}
	})
}
