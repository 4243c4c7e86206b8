package hookpipeline

import (
	"regexp"

	"github.com/basket/khoregos/internal/boundary"
	"github.com/basket/khoregos/internal/models"
)

// criticalPathPatterns flag files whose exposure is itself the incident:
// secrets, credentials, and auth/security code.
var criticalPathPatterns = []string{
	".env*", "**/auth/**", "**/security/**", "**/*.pem", "**/*.key",
}

// dependencyManifestPatterns and their lockfile siblings mark a
// dependency-surface change as worth a human's attention even absent any
// other signal.
var dependencyManifestPatterns = []string{
	"package.json", "package-lock.json", "npm-shrinkwrap.json", "yarn.lock", "pnpm-lock.yaml",
	"requirements.txt", "requirements.lock",
	"go.mod", "go.sum",
	"Cargo.toml", "Cargo.lock",
	"**/pom.xml",
}

// dangerousCommandPattern flags shell commands whose blast radius warrants
// a warning even when the affected paths themselves look ordinary.
var dangerousCommandPattern = regexp.MustCompile(`\b(rm|kill|chmod|chown|curl|wget)\b`)

// classifySeverity assigns the severity of the primary tool_use event.
// boundaryFlagged is true when this same call already tripped strict-mode
// enforcement: a boundary violation is critical regardless of which files
// were touched.
func classifySeverity(files []string, action string, boundaryFlagged bool) models.Severity {
	if boundaryFlagged || matchesAny(criticalPathPatterns, files) {
		return models.SeverityCritical
	}
	if matchesAny(dependencyManifestPatterns, files) || dangerousCommandPattern.MatchString(action) {
		return models.SeverityWarning
	}
	return models.SeverityInfo
}

func matchesAny(patterns, files []string) bool {
	for _, f := range files {
		for _, p := range patterns {
			if boundary.MatchGlob(p, f) {
				return true
			}
		}
	}
	return false
}
