// Package secrets scans generated files for credentials before they are
// published to a public repository, using the gitleaks rule set.
package secrets
