package random

import "testing"

func TestNew(t *testing.T) {
	data, err := New(32)
	if err != nil {
		t.Fatal("unable to create random data:", err)
	}
	if len(data) != 32 {
		t.Error("random data did not have expected length:", len(data), "!= 32")
	}
}

func TestNewDistinct(t *testing.T) {
	a, err := New(16)
	if err != nil {
		t.Fatal(err)
	}
	b, err := New(16)
	if err != nil {
		t.Fatal(err)
	}
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("two independent random draws were identical")
	}
}
