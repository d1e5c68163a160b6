package pyenv

import (
	"fmt"
	"regexp"
	"strings"
)

// ResolutionConflict is the structured form of a failed dependency resolve:
// the subject package, the requirements that could not be reconciled, and
// the hop chain the resolver reported.
type ResolutionConflict struct {
	Subject      string
	Requirements []string
	Chain        []string
	RawOutput    string
}

func (c *ResolutionConflict) Error() string {
	if c.Subject == "" {
		return "dependency resolution failed"
	}
	return fmt.Sprintf("dependency resolution failed for %s: %s", c.Subject, strings.Join(c.Requirements, " vs "))
}

var (
	dependsRe  = regexp.MustCompile(`(?i)([a-z0-9][a-z0-9._-]*[0-9a-z])(?:==|>=|<=|>|<|~=)?[^\s]*\s+depends on\s+([a-z0-9][a-z0-9._-]*[^\s,]*)`)
	requireRe  = regexp.MustCompile(`(?i)(?:you require|your project requires)\s+([a-z0-9][a-z0-9._-]*[^\s,]*)`)
	subjectRe  = regexp.MustCompile(`(?i)no versions? of\s+([a-z0-9][a-z0-9._-]*)`)
)

// ParseResolutionConflict extracts a structured conflict from resolver
// output. The raw output is always carried for --verbose rendering.
func ParseResolutionConflict(output string) *ResolutionConflict {
	conflict := &ResolutionConflict{RawOutput: output}

	if m := subjectRe.FindStringSubmatch(output); m != nil {
		conflict.Subject = strings.ToLower(m[1])
	}
	for _, m := range dependsRe.FindAllStringSubmatch(output, -1) {
		conflict.Chain = append(conflict.Chain, fmt.Sprintf("%s -> %s", strings.ToLower(m[1]), strings.ToLower(m[2])))
		conflict.Requirements = append(conflict.Requirements, strings.ToLower(m[2]))
		if conflict.Subject == "" {
			conflict.Subject = strings.ToLower(m[1])
		}
	}
	for _, m := range requireRe.FindAllStringSubmatch(output, -1) {
		conflict.Requirements = append(conflict.Requirements, strings.ToLower(m[1]))
	}
	return conflict
}
