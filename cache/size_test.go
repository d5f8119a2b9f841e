package cache

import "testing"

func TestApproxSize(t *testing.T) {
	cases := []struct {
		name  string
		value any
		want  int64
	}{
		{"string", "abcd", 8},
		{"unicode string", "héllo", 10},
		{"bytes", []byte{1, 2, 3}, 3},
		{"int", 42, scalarSizeBytes},
		{"float", 3.14, scalarSizeBytes},
		{"bool", true, scalarSizeBytes},
		{"nil", nil, scalarSizeBytes},
		{"map", map[string]any{"a": 1}, 2 * int64(len(`{"a":1}`))},
		{"slice", []int{1, 2, 3}, 2 * int64(len(`[1,2,3]`))},
	}

	for _, tc := range cases {
		if got := approxSize(tc.value); got != tc.want {
			t.Errorf("%s: expected %d, got %d", tc.name, tc.want, got)
		}
	}
}

func TestApproxSizeUnmarshalable(t *testing.T) {
	// Values JSON cannot encode fall back to the scalar cost.
	if got := approxSize(func() {}); got != scalarSizeBytes {
		t.Errorf("Expected %d, got %d", scalarSizeBytes, got)
	}
}
