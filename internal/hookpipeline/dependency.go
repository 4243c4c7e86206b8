package hookpipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/basket/khoregos/internal/models"
)

// dependencySections are the package.json fields walked for changes, in
// the order their events are emitted.
var dependencySections = []string{"dependencies", "devDependencies"}

// dependencyChange is one added/removed/updated dependency, ready to
// become an audit event.
type dependencyChange struct {
	EventType models.EventType
	Section   string
	Name      string
	Detail    string
}

// detectDependencyChanges diffs a package.json against its last committed
// revision. It returns no changes (not an error) when there is no VCS,
// the file has never been committed with different content, or either
// revision fails to parse as JSON: a hook subprocess must never fail a
// tool call over a malformed manifest.
func detectDependencyChanges(ctx context.Context, projectRoot, absolutePath string) []dependencyChange {
	current, err := os.ReadFile(absolutePath)
	if err != nil {
		return nil
	}
	currentSections, ok := parseSections(current)
	if !ok {
		return nil
	}

	relative, err := filepath.Rel(projectRoot, absolutePath)
	if err != nil {
		return nil
	}
	relative = filepath.ToSlash(relative)

	if !isGitRepo(ctx, projectRoot) {
		return nil
	}

	previous, hadPrior := gitShowHead(ctx, projectRoot, relative)
	var previousSections map[string][]kv
	if hadPrior {
		parsed, ok := parseSections(previous)
		if !ok {
			previousSections = map[string][]kv{}
		} else {
			previousSections = parsed
		}
	} else {
		previousSections = map[string][]kv{}
	}

	var changes []dependencyChange
	for _, section := range dependencySections {
		changes = append(changes, diffSection(section, currentSections[section], previousSections[section])...)
	}
	return changes
}

func diffSection(section string, current, previous []kv) []dependencyChange {
	previousByName := make(map[string]string, len(previous))
	for _, p := range previous {
		previousByName[p.Key] = p.Value
	}
	seen := make(map[string]bool, len(current))

	var changes []dependencyChange
	for _, c := range current {
		seen[c.Key] = true
		prevVersion, existed := previousByName[c.Key]
		switch {
		case !existed:
			changes = append(changes, dependencyChange{
				EventType: models.EventDependencyAdded, Section: section, Name: c.Key, Detail: c.Value,
			})
		case prevVersion != c.Value:
			changes = append(changes, dependencyChange{
				EventType: models.EventDependencyUpdated, Section: section, Name: c.Key,
				Detail: fmt.Sprintf("%s→%s", prevVersion, c.Value),
			})
		}
	}
	for _, p := range previous {
		if !seen[p.Key] {
			changes = append(changes, dependencyChange{
				EventType: models.EventDependencyRemoved, Section: section, Name: p.Key, Detail: p.Value,
			})
		}
	}
	return changes
}

// kv is one dependency-name/version-string pair, kept in the JSON
// document's original key order.
type kv struct {
	Key   string
	Value string
}

// parseSections decodes package.json far enough to pull out
// dependencies/devDependencies as ordered key-value pairs, using a
// streaming token decoder because encoding/json's map decoding does not
// preserve object key order and the emission order of scenario-level
// dependency events is order-sensitive.
func parseSections(raw []byte) (map[string][]kv, bool) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false
	}
	out := make(map[string][]kv, len(dependencySections))
	for _, section := range dependencySections {
		fragment, present := doc[section]
		if !present {
			continue
		}
		pairs, err := orderedStringPairs(fragment)
		if err != nil {
			return nil, false
		}
		out[section] = pairs
	}
	return out, true
}

func orderedStringPairs(raw json.RawMessage) ([]kv, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	var pairs []kv
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected string key, got %v", keyTok)
		}
		valTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		value, ok := valTok.(string)
		if !ok {
			continue // non-string version specs (rare) are skipped, not fatal
		}
		pairs = append(pairs, kv{Key: key, Value: value})
	}
	return pairs, nil
}

func isGitRepo(ctx context.Context, projectRoot string) bool {
	cmd := exec.CommandContext(ctx, "git", "rev-parse", "--is-inside-work-tree")
	cmd.Dir = projectRoot
	return cmd.Run() == nil
}

// gitShowHead returns relative's content at HEAD, or (nil, false) if it
// has no committed revision.
func gitShowHead(ctx context.Context, projectRoot, relative string) ([]byte, bool) {
	cmd := exec.CommandContext(ctx, "git", "show", "HEAD:"+relative)
	cmd.Dir = projectRoot
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, false
	}
	return out.Bytes(), true
}
