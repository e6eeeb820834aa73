package catalog

import (
	"path/filepath"
	"testing"
)

func openTest(t *testing.T) *Catalog {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestInsertAndFindExisting(t *testing.T) {
	c := openTest(t)

	id, err := c.InsertPackage(PackageRow{
		AbstractRequirement: `{"url":"pypi:requests"}`,
		PackageType:         "pypi",
		URL:                 "pypi:requests",
		Name:                "requests",
		Revision:            "2.31.0",
		PackageName:         "pypi/requests/requests-2.31.0.tar.gz",
		InstallName:         "requests/2.31.0",
		InstallPath:         "/home/installs/requests/2.31.0",
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero id")
	}

	rows, err := c.FindExisting(IdentityFilter{URL: "pypi:requests", Name: "requests"}, nil)
	if err != nil {
		t.Fatalf("find existing: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != id {
		t.Fatalf("expected one matching row with id %d, got %+v", id, rows)
	}

	// A filter naming a revision that doesn't match should return nothing.
	rows, err = c.FindExisting(IdentityFilter{URL: "pypi:requests", Revision: "1.0.0"}, nil)
	if err != nil {
		t.Fatalf("find existing (no match): %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected no rows, got %+v", rows)
	}
}

func TestLinkLifecycle(t *testing.T) {
	c := openTest(t)

	pkgID, err := c.InsertPackage(PackageRow{AbstractRequirement: "{}", URL: "pypi:flask"})
	if err != nil {
		t.Fatalf("insert package: %v", err)
	}
	envID, err := c.EnsureEnvironment("default")
	if err != nil {
		t.Fatalf("ensure environment: %v", err)
	}
	envID2, err := c.EnsureEnvironment("default")
	if err != nil || envID != envID2 {
		t.Fatalf("expected EnsureEnvironment to be idempotent, got %d and %d (err %v)", envID, envID2, err)
	}

	if link, err := c.FindLink(pkgID, envID); err != nil || link != nil {
		t.Fatalf("expected no link yet, got %+v (err %v)", link, err)
	}

	linkID, err := c.InsertLink(pkgID, envID, "{}")
	if err != nil {
		t.Fatalf("insert link: %v", err)
	}
	link, err := c.FindLink(pkgID, envID)
	if err != nil {
		t.Fatalf("find link: %v", err)
	}
	if link == nil || link.ID != linkID {
		t.Fatalf("expected link %d, got %+v", linkID, link)
	}
}

func TestSharedLibraries(t *testing.T) {
	c := openTest(t)
	pkgID, err := c.InsertPackage(PackageRow{AbstractRequirement: "{}", URL: "pypi:numpy"})
	if err != nil {
		t.Fatalf("insert package: %v", err)
	}
	if err := c.InsertSharedLibrary(SharedLibraryRow{
		PackageID: pkgID,
		Path:      "/installs/numpy/lib/libopenblas.so",
		SONAME:    "libopenblas.so.0",
		Deps:      "/usr/lib/libc.so.6",
	}); err != nil {
		t.Fatalf("insert shared library: %v", err)
	}
	rows, err := c.SharedLibrariesForPackage(pkgID)
	if err != nil {
		t.Fatalf("query shared libraries: %v", err)
	}
	if len(rows) != 1 || rows[0].SONAME != "libopenblas.so.0" {
		t.Fatalf("unexpected rows: %+v", rows)
	}
}
