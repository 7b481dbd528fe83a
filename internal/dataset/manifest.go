// Package dataset implements manifest parsing and the windowed streaming
// sources that feed the training loop.
package dataset

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// Entry is one manifest line: a feature file paired with its label file.
type Entry struct {
	FeaturePath string
	LabelPath   string
}

// ParseDBL reads a manifest file with one `<feature-path> <label-path>`
// entry per line. Blank lines and #-comments are skipped.
func ParseDBL(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open manifest: %w", err)
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			return nil, fmt.Errorf("manifest %s line %d: want 2 fields, got %d", path, lineNo, len(fields))
		}
		entries = append(entries, Entry{FeaturePath: fields[0], LabelPath: fields[1]})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("manifest %s is empty", path)
	}
	return entries, nil
}

// EmotionSet maps emotion names to class IDs. IDs follow file line order.
type EmotionSet struct {
	Names []string
	IDs   map[string]int
}

// LoadEmotionSet reads the label vocabulary, one emotion name per line.
func LoadEmotionSet(path string) (*EmotionSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open emotion set: %w", err)
	}
	defer f.Close()

	set := &EmotionSet{IDs: make(map[string]int)}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" {
			continue
		}
		if _, dup := set.IDs[name]; dup {
			return nil, fmt.Errorf("emotion set %s: duplicate entry %q", path, name)
		}
		set.IDs[name] = len(set.Names)
		set.Names = append(set.Names, name)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read emotion set: %w", err)
	}
	if len(set.Names) == 0 {
		return nil, fmt.Errorf("emotion set %s is empty", path)
	}
	return set, nil
}

// NumClasses returns the vocabulary size.
func (s *EmotionSet) NumClasses() int { return len(s.Names) }
