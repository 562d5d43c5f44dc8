package fields

// Def gives the scope and kind of one named field on one block type.
type Def struct {
	Scope Scope
	Kind  Kind
}

// perType lists fields whose scope or kind differs from the settings/string
// default. The runtime treats blocks as opaque otherwise.
var perType = map[string]map[string]Def{
	"course": {
		"tabs":                  {ScopeSettings, KindJson},
		"grading_policy":        {ScopeContent, KindJson},
		"advanced_modules":      {ScopeSettings, KindJson},
		"discussion_blackouts":  {ScopeSettings, KindJson},
		"pre_requisite_courses": {ScopeSettings, KindJson},
		"self_paced":            {ScopeSettings, KindBoolean},
		"max_attempts":          {ScopeSettings, KindNumber},
	},
	"problem": {
		"data":         {ScopeContent, KindString},
		"weight":       {ScopeSettings, KindNumber},
		"max_attempts": {ScopeSettings, KindNumber},
		"showanswer":   {ScopeSettings, KindString},
	},
	"html": {
		"data":   {ScopeContent, KindString},
		"editor": {ScopeSettings, KindString},
	},
	"video": {
		"data":            {ScopeContent, KindString},
		"youtube_id_1_0":  {ScopeSettings, KindString},
		"start_time":      {ScopeSettings, KindNumber},
		"end_time":        {ScopeSettings, KindNumber},
		"download_video":  {ScopeSettings, KindBoolean},
		"transcripts":     {ScopeSettings, KindJson},
		"only_on_android": {ScopeSettings, KindBoolean},
	},
	"sequential": {
		"due":       {ScopeSettings, KindString},
		"graded":    {ScopeSettings, KindBoolean},
		"is_exam":   {ScopeSettings, KindBoolean},
		"hide_tabs": {ScopeSettings, KindBoolean},
	},
	"vertical": {
		"done": {ScopeSettings, KindBoolean},
	},
	"library_content": {
		"source_library_id":      {ScopeSettings, KindString},
		"source_library_version": {ScopeSettings, KindString},
		"max_count":              {ScopeSettings, KindNumber},
		"capa_type":              {ScopeSettings, KindString},
	},
	"split_test": {
		"group_id_to_child": {ScopeSettings, KindReferenceValueDict},
		"user_partition_id": {ScopeSettings, KindNumber},
	},
	"conditional": {
		"sources":       {ScopeSettings, KindReferenceList},
		"show_tag_list": {ScopeSettings, KindJson},
	},
	"discussion": {
		"discussion_target": {ScopeSettings, KindString},
	},
	"static_tab": {
		"data": {ScopeContent, KindString},
	},
	"about": {
		"data": {ScopeContent, KindString},
	},
	"course_info": {
		"data":  {ScopeContent, KindString},
		"items": {ScopeContent, KindJson},
	},
	"custom_tag_template": {
		"data": {ScopeContent, KindString},
	},
}

// shared fields every block type carries.
var common = map[string]Def{
	"display_name":          {ScopeSettings, KindString},
	"xml_attributes":        {ScopeSettings, KindJson},
	"visible_to_staff_only": {ScopeSettings, KindBoolean},
}

// Lookup returns the definition for a field on a block type. Unknown fields
// default to settings-scope strings, which is how opaque attributes survive
// a round trip.
func Lookup(blockType, field string) Def {
	if m, ok := perType[blockType]; ok {
		if d, ok := m[field]; ok {
			return d
		}
	}
	if d, ok := common[field]; ok {
		return d
	}
	return Def{Scope: ScopeSettings, Kind: KindString}
}

// Known reports whether a field is explicitly modeled for a block type,
// without the settings/string fallback Lookup applies.
func Known(blockType, field string) (Def, bool) {
	if m, ok := perType[blockType]; ok {
		if d, ok := m[field]; ok {
			return d, true
		}
	}
	d, ok := common[field]
	return d, ok
}
