package nodes

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// ScanRequirements parses a node directory's requirements.txt into
// requirement specs. install.py is never executed; the requirements file is
// the only dependency signal honored.
func ScanRequirements(nodeDir string) ([]string, error) {
	path := filepath.Join(nodeDir, "requirements.txt")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var specs []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		// Option lines (-r, -e, --index-url, ...) are pip directives, not
		// requirements.
		if strings.HasPrefix(line, "-") {
			continue
		}
		specs = append(specs, line)
	}
	return specs, scanner.Err()
}
