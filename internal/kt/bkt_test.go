package kt

import (
	"math"
	"math/rand"
	"testing"

	"github.com/alfredjeanlab/hpit/internal/model"
)

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestTrace(t *testing.T) {
	tests := []struct {
		name    string
		in      model.Priors
		correct bool
		want    float64
	}{
		{
			name:    "defaults correct",
			in:      model.DefaultPriors(),
			correct: true,
			// posterior 0.5025/0.585, then learning transfer with 0.33
			want: 0.5025/0.585 + (1-0.5025/0.585)*0.33,
		},
		{
			name:    "defaults incorrect",
			in:      model.DefaultPriors(),
			correct: false,
			want:    0.2475/(0.2475+0.25*0.67) + (1-0.2475/(0.2475+0.25*0.67))*0.33,
		},
		{
			name:    "no learning keeps posterior",
			in:      model.Priors{PKnown: 0.5, PLearned: 0, PGuess: 0.2, PMistake: 0.1},
			correct: true,
			want:    0.45 / (0.45 + 0.1),
		},
		{
			name:    "zero denominator on correct",
			in:      model.Priors{PKnown: 1, PLearned: 0.33, PGuess: 0, PMistake: 1},
			correct: true,
			want:    0.33,
		},
		{
			name:    "zero denominator on incorrect",
			in:      model.Priors{PKnown: 0, PLearned: 0.2, PGuess: 1, PMistake: 0},
			correct: false,
			want:    0.2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Trace(tt.in, tt.correct)
			if !near(got.PKnown, tt.want) {
				t.Errorf("PKnown = %v, want %v", got.PKnown, tt.want)
			}
			if got.PLearned != tt.in.PLearned || got.PGuess != tt.in.PGuess || got.PMistake != tt.in.PMistake {
				t.Errorf("only PKnown may change: got %+v from %+v", got, tt.in)
			}
		})
	}
}

func TestTrace_SecondCorrectFromDefaults(t *testing.T) {
	got := Trace(model.DefaultPriors(), true)
	if math.Round(got.PKnown*100)/100 != 0.91 {
		t.Errorf("PKnown = %.4f, want 0.91 to two decimals", got.PKnown)
	}
}

func TestTrace_StaysInUnitInterval(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 500; run++ {
		p := model.Priors{
			PKnown:   rng.Float64(),
			PLearned: rng.Float64(),
			PGuess:   rng.Float64(),
			PMistake: rng.Float64(),
		}
		// Hit the edges now and then.
		if run%10 == 0 {
			p.PGuess, p.PMistake = 0, 1
		}
		for step := 0; step < 50; step++ {
			p = Trace(p, rng.Intn(2) == 0)
			if p.PKnown < 0 || p.PKnown > 1 || math.IsNaN(p.PKnown) {
				t.Fatalf("run %d step %d: PKnown = %v", run, step, p.PKnown)
			}
		}
	}
}

func TestValidPriors(t *testing.T) {
	tests := []struct {
		p    model.Priors
		want bool
	}{
		{model.DefaultPriors(), true},
		{model.Priors{}, true},
		{model.Priors{PKnown: 1, PLearned: 1, PGuess: 1, PMistake: 1}, true},
		{model.Priors{PKnown: 1.01}, false},
		{model.Priors{PGuess: -0.1}, false},
		{model.Priors{PMistake: math.NaN()}, false},
	}
	for _, tt := range tests {
		if got := ValidPriors(tt.p); got != tt.want {
			t.Errorf("ValidPriors(%+v) = %v, want %v", tt.p, got, tt.want)
		}
	}
}
