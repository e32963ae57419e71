package dirman

import (
	"testing"

	"github.com/jtwittner/blocklog/vfs"
)

func mustCreate(t *testing.T, fs vfs.FS, name string) {
	t.Helper()
	f, err := fs.CreateExclusive(name)
	if err != nil {
		t.Fatalf("CreateExclusive(%q): %v", name, err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close(%q): %v", name, err)
	}
}

// TestLatestBlockNumber: after creating block.1..block.k plus unrelated
// files, LatestBlockNumber returns k.
func TestLatestBlockNumber(t *testing.T) {
	fs := vfs.NewMemFS()
	for _, name := range []string{"block.1", "block.2", "block.3", "README.md", "block.tmp", ".block.4"} {
		mustCreate(t, fs, "/data/"+name)
	}

	got, err := LatestBlockNumber(fs, "/data")
	if err != nil {
		t.Fatalf("LatestBlockNumber: %v", err)
	}
	if got != 3 {
		t.Fatalf("got %d, want 3", got)
	}
}

func TestLatestBlockNumber_Empty(t *testing.T) {
	fs := vfs.NewMemFS()
	got, err := LatestBlockNumber(fs, "/data")
	if err != nil {
		t.Fatalf("LatestBlockNumber: %v", err)
	}
	if got != 0 {
		t.Fatalf("got %d, want 0", got)
	}
}

// TestDeleteBlocksBelow_Monotonicity: removes exactly the blocks strictly
// below the threshold, and is idempotent on repeated calls.
func TestDeleteBlocksBelow_Monotonicity(t *testing.T) {
	fs := vfs.NewMemFS()
	for n := uint64(1); n <= 5; n++ {
		mustCreate(t, fs, "/data/"+BlockFileName(n))
	}

	if err := DeleteBlocksBelow(fs, "/data", 4); err != nil {
		t.Fatalf("DeleteBlocksBelow: %v", err)
	}

	got, err := LatestBlockNumber(fs, "/data")
	if err != nil {
		t.Fatalf("LatestBlockNumber: %v", err)
	}
	if got != 5 {
		t.Fatalf("latest after delete = %d, want 5", got)
	}

	entries, err := fs.ReadDir("/data")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d remaining files, want 2 (block.4, block.5)", len(entries))
	}

	// Idempotent: calling again with the same threshold changes nothing.
	if err := DeleteBlocksBelow(fs, "/data", 4); err != nil {
		t.Fatalf("second DeleteBlocksBelow: %v", err)
	}
	entries2, err := fs.ReadDir("/data")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries2) != 2 {
		t.Fatalf("got %d remaining files after idempotent call, want 2", len(entries2))
	}
}

func TestParseBlockNum(t *testing.T) {
	tests := []struct {
		name    string
		wantN   uint64
		wantOK  bool
	}{
		{"block.1", 1, true},
		{"block.0", 0, true},
		{"block.18446744073709551615", 18446744073709551615, true},
		{"block.", 0, false},
		{"block.abc", 0, false},
		{"block.-1", 0, false},
		{"blocks.1", 0, false},
		{"README.md", 0, false},
	}
	for _, tt := range tests {
		n, ok := parseBlockNum(tt.name)
		if ok != tt.wantOK || (ok && n != tt.wantN) {
			t.Errorf("parseBlockNum(%q) = (%d, %v), want (%d, %v)", tt.name, n, ok, tt.wantN, tt.wantOK)
		}
	}
}
