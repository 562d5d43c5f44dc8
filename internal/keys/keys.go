package keys

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Branch names one of the two materializations of a course tree.
type Branch string

const (
	BranchNone      Branch = ""
	BranchPublished Branch = "published"
	BranchDraft     Branch = "draft"
)

// CourseKey is the (org, course, run) namespace of a course or library.
// Equality is case-sensitive; LowerString exists for case-insensitive lookups.
type CourseKey struct {
	Org    string
	Course string
	Run    string
}

func NewCourseKey(org, course, run string) CourseKey {
	return CourseKey{Org: org, Course: course, Run: run}
}

func (k CourseKey) IsZero() bool {
	return k.Org == "" && k.Course == "" && k.Run == ""
}

func (k CourseKey) String() string {
	return fmt.Sprintf("course-v1:%s+%s+%s", k.Org, k.Course, k.Run)
}

// LegacyString is the slash-separated form found inside legacy asset URLs
// and policy filenames.
func (k CourseKey) LegacyString() string {
	return fmt.Sprintf("%s/%s/%s", k.Org, k.Course, k.Run)
}

func (k CourseKey) LowerString() string {
	return strings.ToLower(k.String())
}

// ParseCourseKey accepts both the canonical "course-v1:Org+Course+Run" form
// and the legacy "Org/Course/Run" form.
func ParseCourseKey(s string) (CourseKey, error) {
	if rest, ok := strings.CutPrefix(s, "course-v1:"); ok {
		parts := strings.Split(rest, "+")
		if len(parts) != 3 || hasEmpty(parts) {
			return CourseKey{}, fmt.Errorf("invalid course key %q", s)
		}
		return CourseKey{Org: parts[0], Course: parts[1], Run: parts[2]}, nil
	}
	parts := strings.Split(s, "/")
	if len(parts) != 3 || hasEmpty(parts) {
		return CourseKey{}, fmt.Errorf("invalid course key %q", s)
	}
	return CourseKey{Org: parts[0], Course: parts[1], Run: parts[2]}, nil
}

// UsageKey identifies a single block within one branch of a course.
type UsageKey struct {
	CourseKey CourseKey
	BlockType string
	BlockID   string
	Branch    Branch
}

func NewUsageKey(course CourseKey, blockType, blockID string) UsageKey {
	return UsageKey{CourseKey: course, BlockType: blockType, BlockID: blockID}
}

func (k UsageKey) IsZero() bool {
	return k.CourseKey.IsZero() && k.BlockType == "" && k.BlockID == ""
}

func (k UsageKey) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "block-v1:%s+%s+%s", k.CourseKey.Org, k.CourseKey.Course, k.CourseKey.Run)
	if k.Branch != BranchNone {
		fmt.Fprintf(&b, "+branch@%s", k.Branch)
	}
	fmt.Fprintf(&b, "+type@%s+block@%s", k.BlockType, k.BlockID)
	return b.String()
}

// ForBranch returns the same logical block addressed on another branch.
func (k UsageKey) ForBranch(b Branch) UsageKey {
	k.Branch = b
	return k
}

// MapInto re-homes the key under dest, preserving type, id and branch.
func (k UsageKey) MapInto(dest CourseKey) UsageKey {
	k.CourseKey = dest
	return k
}

func ParseUsageKey(s string) (UsageKey, error) {
	rest, ok := strings.CutPrefix(s, "block-v1:")
	if !ok {
		return UsageKey{}, fmt.Errorf("invalid usage key %q", s)
	}
	parts := strings.Split(rest, "+")
	if len(parts) < 5 {
		return UsageKey{}, fmt.Errorf("invalid usage key %q", s)
	}
	k := UsageKey{CourseKey: CourseKey{Org: parts[0], Course: parts[1], Run: parts[2]}}
	for _, p := range parts[3:] {
		switch {
		case strings.HasPrefix(p, "branch@"):
			k.Branch = Branch(strings.TrimPrefix(p, "branch@"))
		case strings.HasPrefix(p, "type@"):
			k.BlockType = strings.TrimPrefix(p, "type@")
		case strings.HasPrefix(p, "block@"):
			k.BlockID = strings.TrimPrefix(p, "block@")
		default:
			return UsageKey{}, fmt.Errorf("invalid usage key segment %q in %q", p, s)
		}
	}
	if k.BlockType == "" || k.BlockID == "" || hasEmpty([]string{k.CourseKey.Org, k.CourseKey.Course, k.CourseKey.Run}) {
		return UsageKey{}, fmt.Errorf("invalid usage key %q", s)
	}
	return k, nil
}

// AssetKey identifies one binary in the asset store.
type AssetKey struct {
	CourseKey CourseKey
	AssetType string
	Name      string
}

func NewAssetKey(course CourseKey, assetType, name string) AssetKey {
	return AssetKey{CourseKey: course, AssetType: assetType, Name: name}
}

func (k AssetKey) IsZero() bool {
	return k.CourseKey.IsZero() && k.AssetType == "" && k.Name == ""
}

func (k AssetKey) String() string { return k.C4xPath() }

// C4xPath is the legacy URL form, also the serialized form stored in
// metadata records.
func (k AssetKey) C4xPath() string {
	return fmt.Sprintf("/c4x/%s/%s/%s/%s", k.CourseKey.Org, k.CourseKey.Course, k.AssetType, k.Name)
}

// VersionedPath embeds the content digest as a cache-buster.
func (k AssetKey) VersionedPath(version int, digest string) string {
	return fmt.Sprintf("/assets/courseware/v%d/%s%s", version, digest, k.C4xPath())
}

// ParseC4xPath parses "/c4x/{org}/{course}/{asset_type}/{name}". The run is
// not encoded in legacy URLs; callers resolve it against the live courses.
func ParseC4xPath(p string) (AssetKey, error) {
	p = path.Clean("/" + strings.TrimPrefix(p, "/"))
	rest, ok := strings.CutPrefix(p, "/c4x/")
	if !ok {
		return AssetKey{}, fmt.Errorf("invalid asset path %q", p)
	}
	parts := strings.SplitN(rest, "/", 4)
	if len(parts) != 4 || hasEmpty(parts) {
		return AssetKey{}, fmt.Errorf("invalid asset path %q", p)
	}
	return AssetKey{
		CourseKey: CourseKey{Org: parts[0], Course: parts[1]},
		AssetType: parts[2],
		Name:      parts[3],
	}, nil
}

// ParseVersionedPath parses "/assets/courseware/v{n}/{digest}/c4x/...",
// returning the embedded legacy key plus the version and digest segments.
func ParseVersionedPath(p string) (AssetKey, int, string, error) {
	p = path.Clean("/" + strings.TrimPrefix(p, "/"))
	rest, ok := strings.CutPrefix(p, "/assets/courseware/")
	if !ok {
		return AssetKey{}, 0, "", fmt.Errorf("invalid versioned asset path %q", p)
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) != 3 || !strings.HasPrefix(parts[0], "v") {
		return AssetKey{}, 0, "", fmt.Errorf("invalid versioned asset path %q", p)
	}
	version, err := strconv.Atoi(strings.TrimPrefix(parts[0], "v"))
	if err != nil || version < 1 {
		return AssetKey{}, 0, "", fmt.Errorf("invalid versioned asset path %q", p)
	}
	digest := parts[1]
	if digest == "" {
		return AssetKey{}, 0, "", fmt.Errorf("invalid versioned asset path %q", p)
	}
	key, err := ParseC4xPath("/" + parts[2])
	if err != nil {
		return AssetKey{}, 0, "", err
	}
	return key, version, digest, nil
}

func hasEmpty(parts []string) bool {
	for _, p := range parts {
		if p == "" {
			return true
		}
	}
	return false
}
