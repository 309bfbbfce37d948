package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func infos(now time.Time, ages ...time.Duration) []SnapshotInfo {
	out := make([]SnapshotInfo, len(ages))
	for i, age := range ages {
		out[i] = SnapshotInfo{
			Path:      filepath.Join("/s", GeneratePath("", now.Add(-age))),
			CreatedAt: now.Add(-age),
		}
	}
	return out
}

func TestCountPolicy(t *testing.T) {
	now := time.Now()
	all := infos(now, 0, time.Hour, 2*time.Hour, 3*time.Hour, 4*time.Hour)

	keep := (&CountPolicy{MaxCount: 3}).Apply(all)
	if len(keep) != 3 {
		t.Fatalf("kept %d, want 3", len(keep))
	}
	if keep[0].Path != all[0].Path || keep[2].Path != all[2].Path {
		t.Error("expected the three newest to be kept")
	}

	if got := (&CountPolicy{MaxCount: 10}).Apply(all); len(got) != 5 {
		t.Errorf("kept %d, want all 5", len(got))
	}
}

func TestAgePolicy(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	all := infos(now, time.Hour, 12*time.Hour, 48*time.Hour, 720*time.Hour)

	policy := &AgePolicy{MaxAge: 24 * time.Hour, Now: func() time.Time { return now }}
	if keep := policy.Apply(all); len(keep) != 2 {
		t.Errorf("kept %d, want 2", len(keep))
	}
}

func TestAllPolicy_Intersection(t *testing.T) {
	now := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	all := infos(now, time.Hour, 2*time.Hour, 3*time.Hour, 72*time.Hour)

	policy := &AllPolicy{Policies: []RetentionPolicy{
		&CountPolicy{MaxCount: 3},
		&AgePolicy{MaxAge: 150 * time.Minute, Now: func() time.Time { return now }},
	}}
	if keep := policy.Apply(all); len(keep) != 2 {
		t.Errorf("kept %d, want 2 (newest three, minus the one older than 2.5h)", len(keep))
	}
}

func TestNewPolicy(t *testing.T) {
	tests := []struct {
		name    string
		count   int
		maxAge  string
		wantNil bool
		wantErr bool
	}{
		{"no limits", 0, "", true, false},
		{"count only", 5, "", false, false},
		{"age only", 0, "30d", false, false},
		{"both", 5, "2w", false, false},
		{"bad age", 5, "forever", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPolicy(tt.count, tt.maxAge)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewPolicy() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if (p == nil) != tt.wantNil {
				t.Errorf("NewPolicy() = %v, wantNil %v", p, tt.wantNil)
			}
		})
	}
}

func TestList_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	at := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	if _, err := Write(GeneratePath(dir, at), testSnapshot(at)); err != nil {
		t.Fatal(err)
	}
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0600)
	os.WriteFile(filepath.Join(dir, "popgate-snapshot-partial.pgs.tmp"), []byte("{"), 0600)
	os.Mkdir(filepath.Join(dir, "popgate-snapshot-dir.pgs"), 0700)

	got, err := List(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("List() returned %d entries, want 1", len(got))
	}
	if got[0].Format != FormatV2 || got[0].Rules != 2 {
		t.Errorf("unexpected info %+v", got[0])
	}
	if !got[0].CreatedAt.Equal(at) {
		t.Errorf("CreatedAt = %v, want time parsed from name %v", got[0].CreatedAt, at)
	}
}

func TestList_MissingDir(t *testing.T) {
	got, err := List(filepath.Join(t.TempDir(), "absent"))
	if err != nil || got != nil {
		t.Errorf("List() on missing dir = %v, %v", got, err)
	}
}

func TestApplyRetention(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		at := base.Add(time.Duration(i) * time.Hour)
		if _, err := Write(GeneratePath(dir, at), testSnapshot(at)); err != nil {
			t.Fatal(err)
		}
	}

	deleted, err := ApplyRetention(dir, &CountPolicy{MaxCount: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(deleted) != 3 {
		t.Errorf("deleted %d, want 3", len(deleted))
	}
	for _, p := range deleted {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s should be removed", p)
		}
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input   string
		want    time.Duration
		wantErr bool
	}{
		{"720h", 720 * time.Hour, false},
		{"30d", 30 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"", 0, true},
		{"d", 0, true},
		{"5y", 0, true},
		{"-3d", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDuration(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
