package keys

import "testing"

func TestCourseKeyRoundTrip(t *testing.T) {
	k := NewCourseKey("edX", "toy", "2012_Fall")
	if got := k.String(); got != "course-v1:edX+toy+2012_Fall" {
		t.Fatalf("String: %q", got)
	}
	parsed, err := ParseCourseKey(k.String())
	if err != nil {
		t.Fatalf("ParseCourseKey: %v", err)
	}
	if parsed != k {
		t.Fatalf("round trip: %+v != %+v", parsed, k)
	}
	legacy, err := ParseCourseKey("edX/toy/2012_Fall")
	if err != nil {
		t.Fatalf("ParseCourseKey legacy: %v", err)
	}
	if legacy != k {
		t.Fatalf("legacy parse: %+v", legacy)
	}
}

func TestParseCourseKeyRejectsMalformed(t *testing.T) {
	for _, s := range []string{"", "course-v1:", "course-v1:a+b", "course-v1:a+b+c+d", "a/b", "a//c"} {
		if _, err := ParseCourseKey(s); err == nil {
			t.Errorf("ParseCourseKey(%q): expected error", s)
		}
	}
}

func TestUsageKeyRoundTrip(t *testing.T) {
	course := NewCourseKey("MITx", "999", "Robot_Super_Course")
	k := NewUsageKey(course, "html", "intro")
	if got := k.String(); got != "block-v1:MITx+999+Robot_Super_Course+type@html+block@intro" {
		t.Fatalf("String: %q", got)
	}
	parsed, err := ParseUsageKey(k.String())
	if err != nil {
		t.Fatalf("ParseUsageKey: %v", err)
	}
	if parsed != k {
		t.Fatalf("round trip: %+v != %+v", parsed, k)
	}

	draft := k.ForBranch(BranchDraft)
	parsed, err = ParseUsageKey(draft.String())
	if err != nil {
		t.Fatalf("ParseUsageKey draft: %v", err)
	}
	if parsed != draft {
		t.Fatalf("draft round trip: %+v != %+v", parsed, draft)
	}
	if parsed.Branch != BranchDraft {
		t.Fatalf("branch not preserved: %+v", parsed)
	}
}

func TestUsageKeyMapInto(t *testing.T) {
	src := NewUsageKey(NewCourseKey("edX", "toy", "2012_Fall"), "video", "welcome")
	dest := NewCourseKey("MITx", "999", "Robot_Super_Course")
	moved := src.MapInto(dest)
	if moved.CourseKey != dest {
		t.Fatalf("MapInto course: %+v", moved)
	}
	if moved.BlockType != "video" || moved.BlockID != "welcome" {
		t.Fatalf("MapInto mutated identity: %+v", moved)
	}
}

func TestAssetKeyPaths(t *testing.T) {
	k := NewAssetKey(NewCourseKey("edX", "toy", "2012_Fall"), "asset", "sample.txt")
	if got := k.C4xPath(); got != "/c4x/edX/toy/asset/sample.txt" {
		t.Fatalf("C4xPath: %q", got)
	}
	versioned := k.VersionedPath(1, "deadbeef")
	if versioned != "/assets/courseware/v1/deadbeef/c4x/edX/toy/asset/sample.txt" {
		t.Fatalf("VersionedPath: %q", versioned)
	}

	parsed, err := ParseC4xPath(k.C4xPath())
	if err != nil {
		t.Fatalf("ParseC4xPath: %v", err)
	}
	if parsed.CourseKey.Org != "edX" || parsed.CourseKey.Course != "toy" || parsed.AssetType != "asset" || parsed.Name != "sample.txt" {
		t.Fatalf("ParseC4xPath: %+v", parsed)
	}
	if parsed.CourseKey.Run != "" {
		t.Fatalf("run should be empty in legacy form: %+v", parsed)
	}
}

func TestParseC4xPathNestedName(t *testing.T) {
	parsed, err := ParseC4xPath("/c4x/edX/toy/asset/images/logo.png")
	if err != nil {
		t.Fatalf("ParseC4xPath: %v", err)
	}
	if parsed.Name != "images/logo.png" {
		t.Fatalf("nested name: %q", parsed.Name)
	}
}
