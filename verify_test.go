// Package adminsession_test enforces project-level structural invariants
// that unit tests cannot catch:
//   - packages under pkg/ or internal/ that nothing imports
//   - slots, surfaces and navigators that only tests ever construct
//
// Migration-specific checks (TestMigrationTablesHaveConsumers) live in
// pkg/database/migrate/ because they depend on the embedded migration FS.
//
// Run: go test -run 'TestNoDeadPackages|TestImplementationsAreConstructed' .
package adminsession_test

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const modulePath = "github.com/txn2/adminsession"

// sourceFile is a non-test Go file with its package import path.
type sourceFile struct {
	importPath string
	content    string
}

// loadSources reads every non-test Go file under the given top-level
// directories.
func loadSources(root string, dirs ...string) ([]sourceFile, error) {
	var files []sourceFile
	for _, dir := range dirs {
		base := filepath.Join(root, dir)
		if _, err := os.Stat(base); os.IsNotExist(err) {
			continue
		}
		err := filepath.Walk(base, func(p string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if info.IsDir() {
				if strings.HasPrefix(info.Name(), "_") || info.Name() == "testdata" {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(p, ".go") || strings.HasSuffix(p, "_test.go") {
				return nil
			}
			content, err := os.ReadFile(p) //nolint:gosec // test reads source files
			if err != nil {
				return fmt.Errorf("reading %s: %w", p, err)
			}
			rel, err := filepath.Rel(root, filepath.Dir(p))
			if err != nil {
				return fmt.Errorf("computing relative path for %s: %w", p, err)
			}
			files = append(files, sourceFile{
				importPath: modulePath + "/" + filepath.ToSlash(rel),
				content:    string(content),
			})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", base, err)
		}
	}
	return files, nil
}

var importRe = regexp.MustCompile(`(?m)^[ \t]*(?:import[ \t]+)?(\w+[ \t]+)?"(` + regexp.QuoteMeta(modulePath) + `/[^"]+)"`)

// imports returns the project packages f imports, keyed by the name f uses
// for them.
func (f sourceFile) imports() map[string]string {
	out := map[string]string{}
	for _, m := range importRe.FindAllStringSubmatch(f.content, -1) {
		name := strings.TrimSpace(m[1])
		if name == "" {
			name = path.Base(m[2])
		}
		out[name] = m[2]
	}
	return out
}

// TestNoDeadPackages verifies that every package under pkg/ and internal/
// is imported by at least one non-test file of another package.
func TestNoDeadPackages(t *testing.T) {
	root, err := filepath.Abs(".")
	require.NoError(t, err)

	files, err := loadSources(root, "pkg", "internal", "cmd")
	require.NoError(t, err)

	imported := map[string]bool{}
	for _, f := range files {
		if strings.HasPrefix(f.importPath, modulePath+"/cmd/") {
			continue
		}
		imported[f.importPath] = false
	}
	require.NotEmpty(t, imported)

	for _, f := range files {
		for _, ip := range f.imports() {
			if _, ok := imported[ip]; ok && ip != f.importPath {
				imported[ip] = true
			}
		}
	}

	for pkg, ok := range imported {
		assert.True(t, ok,
			"package %q is never imported by non-test code; wire it into the app or delete it", pkg)
	}
}

// implementation is a concrete type declared to satisfy an interface with
// `_ Iface = (*T)(nil)` or `_ Iface = T{}`.
type implementation struct {
	iface      string
	typeName   string
	importPath string
}

var complianceRe = regexp.MustCompile(`(?m)^\s*(?:var\s+)?_\s+([\w.]+)\s*=\s*(?:\(\*(\w+)\)\(nil\)|(\w+)\{\})`)

// constructedTypes lists the interfaces whose implementations must be
// reachable from the running binary. A slot, surface or navigator only a
// test builds is a storage or UI path that never runs.
var constructedTypes = map[string]bool{
	"Slot":           true,
	"Surface":        true,
	"Navigator":      true,
	"Store":          true,
	"ActivitySource": true,
}

func ifaceName(qualified string) string {
	if i := strings.LastIndex(qualified, "."); i >= 0 {
		return qualified[i+1:]
	}
	return qualified
}

// constructors returns the functions in pkg that return typeName or a
// pointer to it.
func constructors(files []sourceFile, pkg, typeName string) []string {
	re := regexp.MustCompile(`(?m)^func\s+(\w+)\(.*\)\s*\(?\*?` + regexp.QuoteMeta(typeName) + `\b`)
	var names []string
	for _, f := range files {
		if f.importPath != pkg {
			continue
		}
		for _, m := range re.FindAllStringSubmatch(f.content, -1) {
			names = append(names, m[1])
		}
	}
	return names
}

// TestImplementationsAreConstructed verifies that every declared Slot,
// Surface, Navigator, Store and ActivitySource implementation is built by
// non-test code outside its own package, through a constructor or a
// composite literal.
func TestImplementationsAreConstructed(t *testing.T) {
	root, err := filepath.Abs(".")
	require.NoError(t, err)

	files, err := loadSources(root, "pkg", "internal", "cmd")
	require.NoError(t, err)

	var impls []implementation
	for _, f := range files {
		for _, m := range complianceRe.FindAllStringSubmatch(f.content, -1) {
			if !constructedTypes[ifaceName(m[1])] {
				continue
			}
			typeName := m[2]
			if typeName == "" {
				typeName = m[3]
			}
			impls = append(impls, implementation{iface: m[1], typeName: typeName, importPath: f.importPath})
		}
	}
	require.NotEmpty(t, impls, "should find interface compliance assertions")

	for _, impl := range impls {
		ctors := constructors(files, impl.importPath, impl.typeName)
		found := false
		for _, f := range files {
			if f.importPath == impl.importPath {
				continue
			}
			for name, ip := range f.imports() {
				if ip != impl.importPath {
					continue
				}
				prefix := regexp.QuoteMeta(name + ".")
				patterns := []string{prefix + regexp.QuoteMeta(impl.typeName) + `\{`}
				for _, c := range ctors {
					patterns = append(patterns, prefix+regexp.QuoteMeta(c)+`\(`)
				}
				if regexp.MustCompile(strings.Join(patterns, "|")).MatchString(f.content) {
					found = true
				}
			}
		}
		assert.True(t, found,
			"%s (%s implementation in %s) is only constructed by tests; wire it into the app or delete it",
			impl.typeName, impl.iface, impl.importPath)
	}
}
