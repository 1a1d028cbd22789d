package acquire

import (
	"fmt"
	"os/exec"
	"sync"
)

// toolCache remembers LookPath results for the process lifetime (checked once at startup).
var toolCache sync.Map // name -> string ("" when missing)

// LookTool resolves an executable on PATH, caching the result.
func LookTool(name string) (string, bool) {
	if v, ok := toolCache.Load(name); ok {
		p := v.(string)
		return p, p != ""
	}
	p, err := exec.LookPath(name)
	if err != nil {
		p = ""
	}
	toolCache.Store(name, p)
	return p, p != ""
}

// CheckDependencies returns an ErrDependency error naming every missing tool.
func CheckDependencies(tools ...string) error {
	var missing []string
	for _, t := range tools {
		if t == "" {
			continue
		}
		if _, ok := LookTool(t); !ok {
			missing = append(missing, t)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %v not found in PATH", ErrDependency, missing)
	}
	return nil
}
