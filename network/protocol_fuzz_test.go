package network

import (
	"testing"
)

// FuzzDecodeRequest tests request parsing with random inputs.
// Run with: go test -fuzz=FuzzDecodeRequest -fuzztime=30s ./network/
func FuzzDecodeRequest(f *testing.F) {
	// Seed corpus with valid requests
	ping, _ := EncodeRequest(&Request{ID: "r1", Op: OpPing})
	f.Add(ping)

	set, _ := EncodeRequest(&Request{ID: "r2", Op: OpSet, Key: "k", Entry: testEntry("v"), Token: "tok"})
	f.Add(set)

	// Add malformed seed inputs
	f.Add([]byte{})
	f.Add([]byte{0xc0})
	f.Add([]byte{0x80})
	f.Add([]byte("plain text"))
	f.Add([]byte{0xde, 0xad, 0xbe, 0xef})

	f.Fuzz(func(t *testing.T, data []byte) {
		// Should not panic regardless of input
		req, err := DecodeRequest(data)
		if err == nil && req != nil {
			// If parsing succeeded, verify we can marshal it back
			_, _ = EncodeRequest(req)
			_ = req.Validate()
		}
	})
}

// FuzzDecodeResponse tests response parsing with random inputs.
// Run with: go test -fuzz=FuzzDecodeResponse -fuzztime=30s ./network/
func FuzzDecodeResponse(f *testing.F) {
	// Seed corpus with valid responses
	ok, _ := EncodeResponse(&Response{ID: "r1", OK: true, Keys: []string{"a"}, Count: 1})
	f.Add(ok)

	failed, _ := EncodeResponse(&Response{ID: "r2", OK: false, Code: CodeInternal, Error: "boom"})
	f.Add(failed)

	f.Add([]byte{})
	f.Add([]byte{0x91, 0xc0})
	f.Add([]byte("plain text"))

	f.Fuzz(func(t *testing.T, data []byte) {
		resp, err := DecodeResponse(data)
		if err == nil && resp != nil {
			_, _ = EncodeResponse(resp)
		}
	})
}
