package conversation

import (
	"regexp"
	"slices"
	"strings"

	"github.com/elliotchance/pie/v2"
)

// NotProvided marks an attribute the user refused or could not supply.
const NotProvided = "Not Provided"

// MandatoryAttributes are collected in this order before optional details.
var MandatoryAttributes = []string{
	"company_name",
	"role",
	"skills",
	"experience",
	"mode_of_work",
	"location",
}

var keyAliases = map[string]string{
	"company":             "company_name",
	"company_name":        "company_name",
	"organization":        "company_name",
	"job_title":           "role",
	"position":            "role",
	"title":               "role",
	"required_skills":     "skills",
	"skill_set":           "skills",
	"years_of_experience": "experience",
	"experience_level":    "experience",
	"work_mode":           "mode_of_work",
	"work_model":          "mode_of_work",
	"working_mode":        "mode_of_work",
	"remote_policy":       "mode_of_work",
	"city":                "location",
	"work_location":       "location",
	"job_location":        "location",
	"office_location":     "location",
	"job_role":            "role",
	"role_title":          "role",
	"job_position":        "role",
	"experience_required": "experience",
	"required_experience": "experience",
	"years_experience":    "experience",
	"skills_required":     "skills",
	"key_skills":          "skills",
	"tech_stack":          "skills",
	"work_arrangement":    "mode_of_work",
	"work_type":           "mode_of_work",
	"remote":              "mode_of_work",
	"company_names":       "company_name",
	"employer":            "company_name",
}

var keyCleaner = strings.NewReplacer("*", "", "`", "", "-", "_", " ", "_")

const maxKeyWords = 4

// Field is one collected attribute. Notes without a key hold free-form optional details.
type Field struct {
	Key   string `json:"key,omitempty"`
	Value string `json:"value"`
}

type Fields []Field

func (f Fields) index(key string) int {
	return pie.FindFirstUsing(f, func(field Field) bool {
		return field.Key != "" && field.Key == key
	})
}

func (f Fields) Get(key string) (string, bool) {
	if i := f.index(key); i >= 0 {
		return f[i].Value, true
	}
	return "", false
}

func (f Fields) MissingMandatory() []string {
	return pie.Filter(MandatoryAttributes, func(key string) bool {
		value, ok := f.Get(key)
		return !ok || value == ""
	})
}

// NextMissing returns the first mandatory attribute neither filled nor refused, or "".
func (f Fields) NextMissing() string {
	if missing := f.MissingMandatory(); len(missing) > 0 {
		return missing[0]
	}
	return ""
}

func (f Fields) Format() string {
	lines := make([]string, 0, len(f))
	for _, field := range f {
		if field.Key == "" {
			lines = append(lines, "- "+field.Value)
			continue
		}
		lines = append(lines, field.Key+": "+field.Value)
	}
	return strings.Join(lines, "\n")
}

func IsRefused(value string) bool {
	return strings.EqualFold(strings.TrimRight(strings.TrimSpace(value), "."), NotProvided)
}

// ParseFields reads "key: value" lines. Lines that do not look like an attribute become notes,
// attributes with an empty value are skipped.
func ParseFields(text string) Fields {
	lines := pie.Filter(strings.Split(text, "\n"), func(line string) bool {
		return strings.TrimSpace(line) != ""
	})

	result := Fields{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimLeft(line, "-*• "))

		key, value, found := strings.Cut(line, ":")
		normalized := normalizeKey(key)
		if !found || normalized == "" {
			if line != "" {
				result = append(result, Field{Value: line})
			}
			continue
		}

		value = strings.TrimSpace(strings.Trim(strings.TrimSpace(value), "*`"))
		if value == "" {
			continue
		}
		if IsRefused(value) {
			value = NotProvided
		}

		if i := result.index(normalized); i >= 0 {
			result[i].Value = value
			continue
		}
		result = append(result, Field{Key: normalized, Value: value})
	}

	return result
}

func normalizeKey(key string) string {
	key = keyCleaner.Replace(strings.ToLower(strings.TrimSpace(key)))
	key = strings.Trim(key, "_")

	if key == "" || strings.Count(key, "_") >= maxKeyWords || strings.ContainsAny(key, "/()") {
		return ""
	}
	if alias, ok := keyAliases[key]; ok {
		return alias
	}
	return key
}

// MergeFields folds proposed into prev without dropping anything prev holds.
// A filled attribute only changes when allowUpdate is set; refused attributes may be filled later.
// Proposed values that were not applied are returned as rejected.
func MergeFields(prev, proposed Fields, allowUpdate bool) (merged Fields, rejected Fields) {
	merged = slices.Clone(prev)
	if merged == nil {
		merged = Fields{}
	}

	for _, field := range proposed {
		if field.Key == "" {
			if !pie.Contains(merged, field) {
				merged = append(merged, field)
			}
			continue
		}

		i := merged.index(field.Key)
		switch {
		case i < 0:
			merged = append(merged, field)
		case merged[i].Value == field.Value:
		case IsRefused(merged[i].Value) || allowUpdate:
			merged[i].Value = field.Value
		default:
			rejected = append(rejected, field)
		}
	}

	return merged, rejected
}

var updateCue = regexp.MustCompile(`(?i)\b(update|change|changed|correct|correction|actually|instead|replace|modify|switch|make it)\b`)

// explicitUpdate reports whether the user message asks to change something already collected.
func explicitUpdate(text string) bool {
	return updateCue.MatchString(text)
}
