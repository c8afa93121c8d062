package wcs

import (
	"errors"
	"os"
	"os/exec"
	"testing"

	"gonum.org/v1/gonum/mat"
)

// TestDisabledSubsystem re-runs itself in a child process with the
// disable variable set, since Available latches its answer for the
// life of the process.
func TestDisabledSubsystem(t *testing.T) {
	if os.Getenv("LS_ASTROM_GATE_CHILD") == "1" {
		checkDisabled(t)
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestDisabledSubsystem$", "-test.v")
	cmd.Env = append(os.Environ(), "LS_ASTROM_GATE_CHILD=1", "LS_ASTROM_NO_WCS=1")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("disabled-subsystem child failed: %v\n%s", err, out)
	}
}

// checkDisabled runs in the child process and asserts that every
// public operation reports ErrUnavailable instead of failing deeper in.
func checkDisabled(t *testing.T) {
	if Available() {
		t.Fatal("Available() = true with LS_ASTROM_NO_WCS set")
	}

	if _, err := NewFromHeader(imageHeader()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("NewFromHeader error = %v, want ErrUnavailable", err)
	}

	pts := mat.NewDense(1, 2, []float64{1024, 512})
	if _, _, err := Convert(&Model{}, pts, PhysToWorld); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Convert error = %v, want ErrUnavailable", err)
	}

	var m Model
	if err := m.ApplySolution(Solution{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("ApplySolution error = %v, want ErrUnavailable", err)
	}
	if _, err := m.HeaderText(); !errors.Is(err, ErrUnavailable) {
		t.Errorf("HeaderText error = %v, want ErrUnavailable", err)
	}
	if _, _, err := m.Deproject(0, 0); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Deproject error = %v, want ErrUnavailable", err)
	}
}
