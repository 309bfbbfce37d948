package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SnapshotInfo holds metadata for listing and retention decisions.
type SnapshotInfo struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Format    int       `json:"format"`
	Rules     int       `json:"rules,omitempty"`
}

// RetentionPolicy decides which snapshots to keep. Input is newest-first.
type RetentionPolicy interface {
	Apply(snapshots []SnapshotInfo) (keep []SnapshotInfo)
}

// CountPolicy keeps the N most recent snapshots.
type CountPolicy struct {
	MaxCount int
}

func (p *CountPolicy) Apply(snapshots []SnapshotInfo) []SnapshotInfo {
	if len(snapshots) <= p.MaxCount {
		return snapshots
	}
	return snapshots[:p.MaxCount]
}

// AgePolicy keeps snapshots newer than MaxAge.
type AgePolicy struct {
	MaxAge time.Duration
	Now    func() time.Time
}

func (p *AgePolicy) Apply(snapshots []SnapshotInfo) []SnapshotInfo {
	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	cutoff := now().Add(-p.MaxAge)
	var keep []SnapshotInfo
	for _, s := range snapshots {
		if s.CreatedAt.After(cutoff) {
			keep = append(keep, s)
		}
	}
	return keep
}

// AllPolicy keeps a snapshot only if EVERY sub-policy keeps it.
type AllPolicy struct {
	Policies []RetentionPolicy
}

func (p *AllPolicy) Apply(snapshots []SnapshotInfo) []SnapshotInfo {
	kept := snapshots
	for _, policy := range p.Policies {
		kept = policy.Apply(kept)
	}
	return kept
}

// NewPolicy builds the retention policy from config values: keep at most
// count snapshots (0 means no count limit) and none older than maxAge
// (empty means no age limit). Returns nil when neither limit is set.
func NewPolicy(count int, maxAge string) (RetentionPolicy, error) {
	var policies []RetentionPolicy
	if count > 0 {
		policies = append(policies, &CountPolicy{MaxCount: count})
	}
	if maxAge != "" {
		d, err := ParseDuration(maxAge)
		if err != nil {
			return nil, err
		}
		policies = append(policies, &AgePolicy{MaxAge: d})
	}
	switch len(policies) {
	case 0:
		return nil, nil
	case 1:
		return policies[0], nil
	default:
		return &AllPolicy{Policies: policies}, nil
	}
}

// List scans dir for snapshot files and returns them sorted newest-first.
// A missing directory yields an empty list.
func List(dir string) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}

	var out []SnapshotInfo
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}

		info := SnapshotInfo{
			Path:      filepath.Join(dir, name),
			Size:      fi.Size(),
			CreatedAt: fi.ModTime(),
		}
		if ts, err := time.Parse(timeLayout, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)); err == nil {
			info.CreatedAt = ts
		}
		if format, err := DetectFormat(info.Path); err == nil {
			info.Format = format
		}
		if info.Format == FormatV2 {
			if h, err := ReadHeader(info.Path); err == nil {
				info.Rules = h.RuleCount
			}
		}
		out = append(out, info)
	}

	sort.Slice(out, func(i, j int) bool {
		return filepath.Base(out[i].Path) > filepath.Base(out[j].Path)
	})
	return out, nil
}

// ApplyRetention deletes snapshots not kept by the policy.
func ApplyRetention(dir string, policy RetentionPolicy) (deleted []string, err error) {
	snapshots, err := List(dir)
	if err != nil {
		return nil, err
	}

	keep := make(map[string]bool)
	for _, s := range policy.Apply(snapshots) {
		keep[s.Path] = true
	}

	for _, s := range snapshots {
		if keep[s.Path] {
			continue
		}
		if err := os.Remove(s.Path); err != nil {
			return deleted, fmt.Errorf("removing %s: %w", filepath.Base(s.Path), err)
		}
		deleted = append(deleted, s.Path)
	}
	return deleted, nil
}

// ParseDuration parses duration strings like "30d", "2w", "720h".
func ParseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("empty duration string")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if len(s) < 2 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}

	num, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || num < 0 {
		return 0, fmt.Errorf("invalid duration: %q", s)
	}
	switch s[len(s)-1] {
	case 'd':
		return time.Duration(num) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(num) * 7 * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("unknown duration suffix %q in %q", s[len(s)-1:], s)
	}
}
