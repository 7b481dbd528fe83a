package dataset

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestParseDBL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "train.dbl")
	writeFile(t, path, "# comment\n/a.feat /a.lab\n\n/b.feat /b.lab\n")
	entries, err := ParseDBL(path)
	if err != nil {
		t.Fatalf("ParseDBL: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[1].LabelPath != "/b.lab" {
		t.Fatalf("unexpected entry: %+v", entries[1])
	}
}

func TestParseDBLRejectsBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.dbl")
	writeFile(t, path, "/only-one-field\n")
	if _, err := ParseDBL(path); err == nil {
		t.Fatal("expected error for malformed line")
	}
}

func TestParseDBLRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.dbl")
	writeFile(t, path, "# nothing\n")
	if _, err := ParseDBL(path); err == nil {
		t.Fatal("expected error for empty manifest")
	}
}

func TestLoadEmotionSet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emotions.txt")
	writeFile(t, path, "neutral\nhappy\nsad\n")
	set, err := LoadEmotionSet(path)
	if err != nil {
		t.Fatalf("LoadEmotionSet: %v", err)
	}
	if set.NumClasses() != 3 {
		t.Fatalf("expected 3 classes, got %d", set.NumClasses())
	}
	if set.IDs["happy"] != 1 {
		t.Fatalf("class ids must follow line order: %v", set.IDs)
	}
}

func TestLoadEmotionSetRejectsDuplicate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emotions.txt")
	writeFile(t, path, "happy\nhappy\n")
	if _, err := LoadEmotionSet(path); err == nil {
		t.Fatal("expected error for duplicate emotion")
	}
}
