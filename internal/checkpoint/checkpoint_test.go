package checkpoint

import (
	"math"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/McHughes288/emotion-detection-cpc/internal/optimizer"
)

func TestCaptureSaveLoadApply(t *testing.T) {
	params := []*optimizer.Param{
		{Value: []float64{1, 2, 3}, Grad: make([]float64, 3)},
		{Value: []float64{4}, Grad: make([]float64, 1)},
	}
	ckpt := Capture(42, "mlp2", 8, 3, params, "run-1")

	path := filepath.Join(t.TempDir(), "model.json")
	if err := Save(path, ckpt); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Step != 42 || loaded.Model != "mlp2" || loaded.NumClasses != 3 {
		t.Fatalf("metadata mismatch: %+v", loaded)
	}

	fresh := []*optimizer.Param{
		{Value: make([]float64, 3), Grad: make([]float64, 3)},
		{Value: make([]float64, 1), Grad: make([]float64, 1)},
	}
	if err := loaded.ApplyTo(fresh); err != nil {
		t.Fatalf("ApplyTo: %v", err)
	}
	if !reflect.DeepEqual(fresh[0].Value, []float64{1, 2, 3}) || fresh[1].Value[0] != 4 {
		t.Fatalf("weights not restored: %v %v", fresh[0].Value, fresh[1].Value)
	}
}

func TestCaptureCopiesValues(t *testing.T) {
	p := &optimizer.Param{Value: []float64{1}, Grad: []float64{0}}
	ckpt := Capture(0, "linear", 1, 1, []*optimizer.Param{p}, "")
	p.Value[0] = 99
	if ckpt.Params[0].Values[0] != 1 {
		t.Fatal("checkpoint aliases live weights")
	}
}

func TestApplyToRejectsShapeMismatch(t *testing.T) {
	ckpt := Capture(0, "linear", 1, 1, []*optimizer.Param{{Value: []float64{1, 2}}}, "")
	err := ckpt.ApplyTo([]*optimizer.Param{{Value: make([]float64, 3)}})
	if err == nil {
		t.Fatal("expected size mismatch error")
	}
}

func TestPolicyPeriodicCadence(t *testing.T) {
	p := NewPolicy(5)
	var due []int
	for step := 0; step <= 17; step++ {
		if p.PeriodicDue(step) {
			due = append(due, step)
		}
	}
	if !reflect.DeepEqual(due, []int{5, 10, 15}) {
		t.Fatalf("periodic cadence wrong: %v", due)
	}
}

func TestPolicyBestIsStrictImprovement(t *testing.T) {
	p := NewPolicy(5)
	if !math.IsInf(p.BestLoss(), 1) {
		t.Fatalf("initial best loss must be +Inf, got %f", p.BestLoss())
	}
	if !p.ObserveValidation(1.0) {
		t.Fatal("first observation must be best")
	}
	if p.ObserveValidation(1.0) {
		t.Fatal("equal loss must not rewrite best")
	}
	if p.ObserveValidation(1.5) {
		t.Fatal("worse loss must not rewrite best")
	}
	if !p.ObserveValidation(0.5) {
		t.Fatal("strictly smaller loss must rewrite best")
	}
	if p.BestLoss() != 0.5 {
		t.Fatalf("best loss not updated: %f", p.BestLoss())
	}
}

func TestPathNaming(t *testing.T) {
	if got := PeriodicPath("/e/model.json", 200); got != "/e/model.json.step200" {
		t.Fatalf("periodic path: %s", got)
	}
	if got := BestPath("/e/model.json"); got != "/e/model.json.bestval" {
		t.Fatalf("best path: %s", got)
	}
}
