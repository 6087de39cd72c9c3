package yamlnode

import (
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func parse(t *testing.T, src string) *yaml.Node {
	t.Helper()
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(src), &root); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return Content(&root)
}

func TestLookupAndPairsKeepOrder(t *testing.T) {
	doc := parse(t, "a:\n  z: 1\n  y: 2\n  x: 3\n")
	inner, ok := LookupPath(doc, "a")
	if !ok {
		t.Fatalf("missing a")
	}
	var keys []string
	_ = Pairs(inner, func(k string, _ *yaml.Node) error {
		keys = append(keys, k)
		return nil
	})
	if strings.Join(keys, ",") != "z,y,x" {
		t.Fatalf("order=%v", keys)
	}
	if _, ok := LookupPath(doc, "a", "missing"); ok {
		t.Fatalf("expected miss")
	}
	if v, _ := LookupPath(doc, "a", "y"); Scalar(v) != "2" {
		t.Fatalf("y=%q", Scalar(v))
	}
}

func TestAliasesAreFollowed(t *testing.T) {
	doc := parse(t, "base: &b {k: v}\nref: *b\n")
	v, ok := LookupPath(doc, "ref", "k")
	if !ok || Scalar(v) != "v" {
		t.Fatalf("alias not followed: %v %q", ok, Scalar(v))
	}
}

func TestEnsureAndSet(t *testing.T) {
	doc := parse(t, "metadata: null\nkeep: 1\n")
	labels := EnsurePath(doc, "metadata", "labels")
	Set(labels, "enable", String("true"))
	Set(labels, "enable", String("false"))
	Set(doc, "ratio", Float(2))

	out, err := yaml.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := "metadata:\n    labels:\n        enable: \"false\"\nkeep: 1\nratio: 2.0\n"
	if string(out) != want {
		t.Fatalf("got:\n%s\nwant:\n%s", out, want)
	}
}

func TestIsNull(t *testing.T) {
	doc := parse(t, "a: ~\nb: ''\n")
	a, _ := Lookup(doc, "a")
	b, _ := Lookup(doc, "b")
	if !IsNull(a) || IsNull(b) || !IsNull(nil) {
		t.Fatalf("IsNull mismatch")
	}
}
