package scenarios

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestScenario(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "*.yaml"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("no scenarios found")
	}
	for _, f := range files {
		sc, err := Load(f)
		if err != nil {
			t.Fatalf("load %s: %v", f, err)
		}
		t.Run(sc.Name, func(t *testing.T) {
			RunScenario(t, sc)
		})
	}
}

func TestLoadDurations(t *testing.T) {
	sc, err := Load(filepath.Join("testdata", "e_escalates_once.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if sc.EscalationThreshold != 10*time.Minute {
		t.Fatalf("threshold %s", sc.EscalationThreshold)
	}
	if sc.Steps[1].Advance != 5*time.Minute || !sc.Steps[1].Escalate {
		t.Fatalf("unexpected step %+v", sc.Steps[1])
	}
}

func TestLoadInvalid(t *testing.T) {
	if _, err := Load("no-file.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte(":"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(bad); err == nil {
		t.Fatal("expected unmarshal error")
	}
	unnamed := filepath.Join(dir, "unnamed.yaml")
	if err := os.WriteFile(unnamed, []byte("fleet: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(unnamed); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestToModel(t *testing.T) {
	req := CallDef{Name: "x", Priority: "high", Lat: 1, Lng: 2}.ToModel()
	if err := req.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	amb := AmbulanceDef{ID: "a", Kind: "basic"}.ToModel()
	if err := amb.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}
