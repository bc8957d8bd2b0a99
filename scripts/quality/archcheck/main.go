// Command archcheck enforces the import layering of the module.
//
// It lists every package with `go list -json -test` and reports imports that
// cross a forbidden boundary. Test-only imports are checked too, except where a
// rule explicitly allows fixtures.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"os/exec"
	"slices"
	"strings"
)

const modulePrefix = "ex-warden/"

type listedPackage struct {
	ImportPath   string
	Imports      []string
	TestImports  []string
	XTestImports []string
}

// importRule forbids packages under from importing packages under to.
type importRule struct {
	from   string
	to     string
	reason string
	// testFixture lets tests import the target, e.g. the in-memory store.
	testFixture bool
}

var importRules = []importRule{
	{from: "pkg/warden", to: "", reason: "pkg/warden must only import the standard library"},
	{from: "internal/kernel", to: "internal/driver", reason: "internal/kernel must not import internal/driver/*"},
	{from: "internal/kernel", to: "internal/store", reason: "internal/kernel must not import internal/store/*"},
	{from: "internal/kernel", to: "modules/", reason: "internal/kernel must not import modules/*"},
	{from: "internal/cache", to: "internal/entities", reason: "internal/cache must stay entity agnostic"},
	{from: "internal/store", to: "internal/cache", reason: "internal/store/* must not import internal/cache"},
	{from: "internal/store", to: "internal/entities", reason: "internal/store/* must not import internal/entities"},
	{from: "modules/", to: "internal/driver", reason: "modules/* reach the live system through services only"},
	{from: "modules/", to: "internal/store/memory", reason: "modules/* reach the document store through services only", testFixture: true},
	{from: "modules/", to: "internal/store", reason: "modules/* reach the document store through services only"},
	{from: "internal/driver", to: "modules/", reason: "internal/driver/* must not import modules/*"},
}

func main() {
	packages, err := listPackages()
	if err != nil {
		fmt.Fprintf(os.Stderr, "arch-check: %v\n", err)
		os.Exit(1)
	}

	violations := collectViolations(packages)
	if len(violations) == 0 {
		_, _ = fmt.Fprintln(os.Stdout, "arch-check: passed")
		return
	}

	_, _ = fmt.Fprintln(os.Stdout, "arch-check: architecture violations:")
	for _, violation := range violations {
		_, _ = fmt.Fprintf(os.Stdout, "  - %s\n", violation)
	}
	os.Exit(1)
}

func listPackages() ([]listedPackage, error) {
	var stdout bytes.Buffer
	cmd := exec.Command("go", "list", "-json", "-test", "./...")
	cmd.Stdout = &stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("go list: %w", err)
	}

	return decodePackages(&stdout)
}

func decodePackages(r io.Reader) ([]listedPackage, error) {
	decoder := json.NewDecoder(r)
	var packages []listedPackage
	for {
		var pkg listedPackage
		err := decoder.Decode(&pkg)
		if errors.Is(err, io.EOF) {
			return packages, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode go list output: %w", err)
		}
		if pkg.ImportPath != "" {
			packages = append(packages, pkg)
		}
	}
}

func collectViolations(packages []listedPackage) []string {
	found := make(map[string]struct{})
	record := func(importer string, imports []string, test bool) {
		for _, imported := range imports {
			if reason := violationReason(importer, imported, test); reason != "" {
				found[fmt.Sprintf("%s -> %s (%s)", importer, imported, reason)] = struct{}{}
			}
		}
	}

	for _, pkg := range packages {
		record(pkg.ImportPath, pkg.Imports, isTestVariant(pkg.ImportPath))
		record(pkg.ImportPath, pkg.TestImports, true)
		record(pkg.ImportPath, pkg.XTestImports, true)
	}

	return slices.Sorted(maps.Keys(found))
}

// isTestVariant reports whether importPath names a package recompiled for tests,
// such as "x [x.test]" or the generated "x.test" main.
func isTestVariant(importPath string) bool {
	return strings.Contains(importPath, " [") || strings.HasSuffix(importPath, ".test")
}

func violationReason(importer string, imported string, test bool) string {
	if !strings.HasPrefix(importer, modulePrefix) || !strings.HasPrefix(imported, modulePrefix) {
		return ""
	}
	importer = strings.TrimPrefix(importer, modulePrefix)
	imported = strings.TrimPrefix(imported, modulePrefix)

	for _, rule := range importRules {
		if !strings.HasPrefix(importer, rule.from) || !strings.HasPrefix(imported, rule.to) {
			continue
		}
		// a package may always import itself and its own subpackages
		if strings.HasPrefix(imported, rule.from) {
			continue
		}
		if test && rule.testFixture {
			return ""
		}
		return rule.reason
	}

	return ""
}
