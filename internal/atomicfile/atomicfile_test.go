package atomicfile

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteJSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	if err := WriteJSON(path, map[string]int{"cursor": 2}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if err := WriteJSON(path, map[string]int{"cursor": 3}); err != nil {
		t.Fatalf("WriteJSON overwrite: %v", err)
	}

	var got map[string]int
	ok, err := ReadJSON(path, &got)
	if err != nil || !ok {
		t.Fatalf("ReadJSON ok=%v err=%v", ok, err)
	}
	if got["cursor"] != 3 {
		t.Errorf("cursor = %d, want 3", got["cursor"])
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("leftover temp files: %d entries", len(entries))
	}
}

func TestReadJSONMissing(t *testing.T) {
	var v map[string]any
	ok, err := ReadJSON(filepath.Join(t.TempDir(), "absent.json"), &v)
	if err != nil || ok {
		t.Errorf("ReadJSON missing: ok=%v err=%v", ok, err)
	}
}
