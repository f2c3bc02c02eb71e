package worker

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Profile is an agent persona: a name plus optional system prompt text
// loaded from <dir>/<name>.md. Kinds that support it inject the prompt at
// launch; a missing file simply launches the bare CLI.
type Profile struct {
	Name         string
	SystemPrompt string
}

// LoadProfile reads the profile named name from dir. A missing file is not
// an error; any other read failure is.
func LoadProfile(dir, name string) (Profile, error) {
	p := Profile{Name: name}
	if dir == "" || name == "" {
		return p, nil
	}
	data, err := os.ReadFile(filepath.Join(dir, name+".md"))
	if os.IsNotExist(err) {
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("read profile %s: %w", name, err)
	}
	p.SystemPrompt = strings.TrimSpace(string(data))
	return p, nil
}

// ListProfiles returns the profile names available under dir, including
// nested ones ("team/reviewer" for team/reviewer.md).
func ListProfiles(dir string) ([]string, error) {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(dir), "**/*.md")
	if err != nil {
		return nil, fmt.Errorf("scan profiles: %w", err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, strings.TrimSuffix(filepath.ToSlash(m), ".md"))
	}
	sort.Strings(names)
	return names, nil
}
