package utils

import (
	"fmt"
	"io/ioutil"
	"sort"
	"strings"
	"time"

	goeval "github.com/edisonguo/govaluate"
	"gopkg.in/yaml.v2"
)

// ISOFormat is the string used to format Go ISO times
const ISOFormat = "2006-01-02T15:04:05.000Z"

var sceneTimeFormats = []string{ISOFormat, time.RFC3339Nano, time.RFC3339, "2006-01-02"}

// Scene is a candidate observation already resolved by the catalog search
// to one source URI per band.
type Scene struct {
	ID         string                 `yaml:"id" json:"id"`
	Datetime   string                 `yaml:"datetime" json:"datetime"`
	Bands      map[string]string      `yaml:"bands" json:"bands"`
	Properties map[string]interface{} `yaml:"properties" json:"properties"`

	Date time.Time `yaml:"-" json:"-"`
}

type sceneList struct {
	Scenes []*Scene `yaml:"scenes"`
}

func parseSceneTime(s string) (time.Time, error) {
	for _, layout := range sceneTimeFormats {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid datetime %q", s)
}

// ParseScenes decodes a YAML scene list document.
func ParseScenes(data []byte) ([]*Scene, error) {
	var list sceneList
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("Error at YAML parsing scene list: %v", err)
	}
	for i, s := range list.Scenes {
		if s == nil {
			return nil, fmt.Errorf("scene %d is empty", i)
		}
		if len(s.ID) == 0 {
			return nil, fmt.Errorf("scene %d has no id", i)
		}
		t, err := parseSceneTime(s.Datetime)
		if err != nil {
			return nil, fmt.Errorf("scene %s: %v", s.ID, err)
		}
		s.Date = t
	}
	return list.Scenes, nil
}

func LoadSceneFile(path string) ([]*Scene, error) {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("Error while reading scene file: %s. Error: %v", path, err)
	}
	return ParseScenes(data)
}

// SortNewestFirst orders scenes by descending date. Scenes with the same
// date keep their relative order.
func SortNewestFirst(scenes []*Scene) {
	sort.SliceStable(scenes, func(i, j int) bool { return scenes[i].Date.After(scenes[j].Date) })
}

// SceneFilter is a boolean expression over scene properties, for example
// `cloud_cover < 20 && platform == 'sentinel-2b'`. The scene id is
// available as the variable `id`.
type SceneFilter struct {
	text string
	expr *goeval.EvaluableExpression
	vars []string
}

// ParseSceneFilter compiles pattern. A blank pattern yields a nil filter
// which accepts every scene.
func ParseSceneFilter(pattern string) (*SceneFilter, error) {
	if len(strings.TrimSpace(pattern)) == 0 {
		return nil, nil
	}

	expr, err := goeval.NewEvaluableExpression(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid scene filter %q: %v", pattern, err)
	}

	f := &SceneFilter{text: pattern, expr: expr}
	seen := map[string]struct{}{}
	for _, token := range expr.Tokens() {
		if token.Kind != goeval.VARIABLE {
			continue
		}
		varName, ok := token.Value.(string)
		if !ok {
			return nil, fmt.Errorf("variable token '%v' failed to cast string", token.Value)
		}
		if _, found := seen[varName]; !found {
			seen[varName] = struct{}{}
			f.vars = append(f.vars, varName)
		}
	}
	return f, nil
}

func (f *SceneFilter) String() string {
	if f == nil {
		return ""
	}
	return f.text
}

// Vars lists the variables referenced by the filter.
func (f *SceneFilter) Vars() []string {
	if f == nil {
		return nil
	}
	return f.vars
}

// Match evaluates the filter against a scene. A scene lacking one of the
// referenced properties is an error rather than a silent rejection.
func (f *SceneFilter) Match(s *Scene) (bool, error) {
	if f == nil {
		return true, nil
	}

	params := make(map[string]interface{}, len(f.vars))
	for _, v := range f.vars {
		if v == "id" {
			params[v] = s.ID
			continue
		}
		val, ok := s.Properties[v]
		if !ok {
			return false, fmt.Errorf("scene %s has no property '%s'", s.ID, v)
		}
		params[v] = normaliseParam(val)
	}

	result, err := f.expr.Evaluate(params)
	if err != nil {
		return false, fmt.Errorf("scene filter '%s' error: %v", f.text, err)
	}
	ok, isBool := result.(bool)
	if !isBool {
		return false, fmt.Errorf("scene filter '%s' does not evaluate to a boolean: %v", f.text, result)
	}
	return ok, nil
}

func normaliseParam(v interface{}) interface{} {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case int32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
