package catalogue

import (
	"os"
	"path/filepath"
	"testing"
)

func writeCatalogue(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "funds.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoad_ValidCatalogue(t *testing.T) {
	path := writeCatalogue(t, `{"FUND1": {"ExA": {"AAPL": 10, "MSFT": 10}}}`)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	fund, ok := c.Lookup("FUND1")
	if !ok {
		t.Fatal("expected FUND1 to be found")
	}
	if fund["ExA"]["AAPL"] != 10 {
		t.Fatalf("ExA AAPL qty = %d, want 10", fund["ExA"]["AAPL"])
	}
}

func TestLoad_UnknownFundNotFound(t *testing.T) {
	path := writeCatalogue(t, `{"FUND1": {"ExA": {"AAPL": 10}}}`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := c.Lookup("NOSUCHFUND"); ok {
		t.Fatal("expected unknown fund to be absent")
	}
}

func TestLoad_MissingFileIsFatalError(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected an error for a missing catalogue file")
	}
}

func TestLoad_MalformedJSONIsFatalError(t *testing.T) {
	path := writeCatalogue(t, `{not valid json`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for malformed JSON")
	}
}

func TestLoad_EmptyCatalogueIsFatalError(t *testing.T) {
	path := writeCatalogue(t, `{}`)
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for an empty catalogue")
	}
}
