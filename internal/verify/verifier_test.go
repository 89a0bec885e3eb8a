package verify_test

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/voxkey/internal/recorder"
	"github.com/MrWong99/voxkey/internal/store"
	"github.com/MrWong99/voxkey/internal/verify"
	livenessmock "github.com/MrWong99/voxkey/pkg/provider/liveness/mock"
	"github.com/MrWong99/voxkey/pkg/provider/quality"
	qualitymock "github.com/MrWong99/voxkey/pkg/provider/quality/mock"
	"github.com/MrWong99/voxkey/pkg/provider/voiceprint"
	vpmock "github.com/MrWong99/voxkey/pkg/provider/voiceprint/mock"
)

const tdKey = "text_dependent_voice_template"

func enrolledStore(t *testing.T, subject, key, label string) *store.Memory {
	t.Helper()
	s := store.NewMemory()
	if err := s.PutTemplate(context.Background(), subject, key, []byte(label)); err != nil {
		t.Fatal(err)
	}
	return s
}

func segment() recorder.AudioRecording {
	return recorder.AudioRecording{Data: make([]byte, 32000), SampleRate: 16000}
}

func TestVerifier_Threshold(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		probability float32
		threshold   float32
		want        bool
	}{
		{name: "above", probability: 0.75, threshold: 0.5, want: true},
		{name: "equal", probability: 0.5, threshold: 0.5, want: true},
		{name: "below", probability: 0.25, threshold: 0.5, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			vp := &vpmock.Engine{MatchResults: []voiceprint.MatchResult{{Score: 0.5, Probability: tt.probability}}}
			v, err := verify.New(recorder.Engines{Voiceprint: vp}, enrolledStore(t, "", tdKey, "enrolled"))
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			res, err := v.Verify(context.Background(), verify.Request{
				Mode:     recorder.TextDependent,
				Settings: verify.Settings{Threshold: tt.threshold},
			}, segment())
			if err != nil {
				t.Fatalf("Verify: %v", err)
			}
			if res.Verified != tt.want || res.Probability != tt.probability {
				t.Errorf("result = %+v, want verified=%v", res, tt.want)
			}

			if len(vp.LoadCalls) != 1 || string(vp.LoadCalls[0]) != "enrolled" {
				t.Errorf("LoadTemplate calls = %q", vp.LoadCalls)
			}
			if len(vp.MatchCalls) != 1 {
				t.Fatalf("match calls = %d, want 1", len(vp.MatchCalls))
			}
			if a, ok := vp.MatchCalls[0].A.(*vpmock.Template); !ok || a.Label != "enrolled" {
				t.Errorf("first match argument = %v, want the enrolled template", vp.MatchCalls[0].A)
			}
		})
	}
}

func TestVerifier_NotEnrolled(t *testing.T) {
	t.Parallel()

	vp := &vpmock.Engine{}
	v, _ := verify.New(recorder.Engines{Voiceprint: vp}, enrolledStore(t, "alice", tdKey, "x"))
	_, err := v.Verify(context.Background(), verify.Request{Subject: "bob", Mode: recorder.TextDependent}, segment())
	if !errors.Is(err, verify.ErrNotEnrolled) {
		t.Fatalf("err = %v, want ErrNotEnrolled", err)
	}
	_, err = v.Verify(context.Background(), verify.Request{Subject: "alice", Mode: recorder.TextIndependent}, segment())
	if !errors.Is(err, verify.ErrNotEnrolled) {
		t.Errorf("err = %v, want ErrNotEnrolled for the other mode", err)
	}
	if len(vp.CreateCalls) != 0 {
		t.Errorf("create calls = %d, want none without an enrollment", len(vp.CreateCalls))
	}
}

func TestVerifier_LivenessGate(t *testing.T) {
	t.Parallel()

	vp := &vpmock.Engine{}
	live := &livenessmock.Checker{Probabilities: []float32{0.25, 0.75}}
	v, _ := verify.New(recorder.Engines{Voiceprint: vp, Liveness: live}, enrolledStore(t, "", tdKey, "e"))
	req := verify.Request{Mode: recorder.TextDependent, Settings: verify.Settings{
		Threshold:         0.5,
		LivenessCheck:     true,
		LivenessThreshold: 0.5,
	}}

	res, err := v.Verify(context.Background(), req, segment())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if res.Verified || res.Rejection == nil || res.Rejection.Kind != recorder.QualityNotLive {
		t.Fatalf("result = %+v, want a not-live rejection", res)
	}
	if res.Outcome() != "not_live" {
		t.Errorf("Outcome() = %q", res.Outcome())
	}
	if len(vp.CreateCalls) != 0 {
		t.Error("a rejected recording must not reach the voiceprint engine")
	}

	res, err = v.Verify(context.Background(), req, segment())
	if err != nil || !res.Verified {
		t.Errorf("second Verify = %+v, %v; want verified", res, err)
	}
	if live.Calls() != 2 {
		t.Errorf("liveness calls = %d, want 2", live.Calls())
	}
}

func TestVerifier_QualityWarnings(t *testing.T) {
	t.Parallel()

	checker := &qualitymock.Checker{Results: []quality.Result{{ShortDescription: quality.MultipleSpeakersDetected}}}
	v, _ := verify.New(recorder.Engines{Voiceprint: &vpmock.Engine{}, Quality: checker}, enrolledStore(t, "", tdKey, "e"))
	th := quality.Thresholds{MaxMultipleSpeakersChance: 0.5}
	res, err := v.Verify(context.Background(), verify.Request{
		Mode:     recorder.TextDependent,
		Settings: verify.Settings{Threshold: 0.5, QualityCheck: true, Quality: th},
	}, segment())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !res.Verified {
		t.Error("quality warnings must not block verification")
	}
	if len(res.Warnings) != 1 || res.Warnings[0].Kind != recorder.QualityMultipleSpeakers {
		t.Errorf("warnings = %+v, want multiple speakers", res.Warnings)
	}
	if checker.Calls[0].Thresholds != th {
		t.Errorf("thresholds = %+v, want %+v", checker.Calls[0].Thresholds, th)
	}

	checker.Err = errors.New("model missing")
	res, err = v.Verify(context.Background(), verify.Request{
		Mode:     recorder.TextDependent,
		Settings: verify.Settings{Threshold: 0.5, QualityCheck: true},
	}, segment())
	if err != nil || !res.Verified || len(res.Warnings) != 0 {
		t.Errorf("Verify with failing checker = %+v, %v; want verified without warnings", res, err)
	}
}

func TestVerifier_EngineErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		vp     *vpmock.Engine
		live   *livenessmock.Checker
		wantOp string
	}{
		{name: "load", vp: &vpmock.Engine{LoadErr: errors.New("corrupt")}, wantOp: "voiceprint.load_template"},
		{name: "create", vp: &vpmock.Engine{CreateErrs: []error{errors.New("oom")}}, wantOp: "voiceprint.create_template"},
		{name: "match", vp: &vpmock.Engine{MatchErr: errors.New("dim mismatch")}, wantOp: "voiceprint.match"},
		{name: "liveness", vp: &vpmock.Engine{}, live: &livenessmock.Checker{Err: errors.New("down")}, wantOp: "liveness.check"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			eng := recorder.Engines{Voiceprint: tt.vp}
			set := verify.Settings{Threshold: 0.5}
			if tt.live != nil {
				eng.Liveness = tt.live
				set.LivenessCheck = true
			}
			v, _ := verify.New(eng, enrolledStore(t, "", tdKey, "e"))
			_, err := v.Verify(context.Background(), verify.Request{Mode: recorder.TextDependent, Settings: set}, segment())
			var callErr *recorder.EngineCallError
			if !errors.As(err, &callErr) || callErr.Op != tt.wantOp {
				t.Errorf("err = %v, want %s EngineCallError", err, tt.wantOp)
			}
		})
	}
}

// brokenLoader fails every read.
type brokenLoader struct{}

func (brokenLoader) GetTemplate(context.Context, string, string) ([]byte, error) {
	return nil, errors.New("connection reset")
}

func TestVerifier_StoreFailure(t *testing.T) {
	t.Parallel()

	v, _ := verify.New(recorder.Engines{Voiceprint: &vpmock.Engine{}}, brokenLoader{})
	_, err := v.Verify(context.Background(), verify.Request{Mode: recorder.TextIndependent}, segment())
	var perr *recorder.PersistenceError
	if !errors.As(err, &perr) || perr.Key != "text_independent_voice_template" {
		t.Errorf("err = %v, want PersistenceError for the text-independent key", err)
	}
	if errors.Is(err, verify.ErrNotEnrolled) {
		t.Error("a store failure is not a missing enrollment")
	}
}

func TestVerifier_Templates(t *testing.T) {
	t.Parallel()

	s := enrolledStore(t, "dana", "text_independent_voice_template", "ti")
	v, _ := verify.New(recorder.Engines{Voiceprint: &vpmock.Engine{}}, s)
	got, err := v.Templates(context.Background(), "dana", recorder.Continuous)
	if err != nil {
		t.Fatalf("Templates: %v", err)
	}
	if len(got) != 1 || got[0].(*vpmock.Template).Label != "ti" {
		t.Errorf("templates = %v, want the text-independent template", got)
	}
	if _, err := v.Verify(context.Background(), verify.Request{Subject: "dana", Mode: recorder.Continuous}, segment()); err == nil {
		t.Error("Verify accepted continuous mode")
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	var initErr *recorder.EngineInitError
	if _, err := verify.New(recorder.Engines{}, store.NewMemory()); !errors.As(err, &initErr) {
		t.Errorf("err = %v, want EngineInitError", err)
	}
	if _, err := verify.New(recorder.Engines{Voiceprint: &vpmock.Engine{}}, nil); err == nil {
		t.Error("expected error without a loader")
	}
}
