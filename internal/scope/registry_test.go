package scope

import (
	"errors"
	"reflect"
	"testing"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := NewRegistry(DefaultTable())
	if err != nil {
		t.Fatalf("default table must build: %v", err)
	}
	return r
}

func TestValidName(t *testing.T) {
	valids := []string{"a", "quote:read", "claim:approve", "a_b-c.d:scope2"}
	for _, v := range valids {
		if !ValidName(v) {
			t.Fatalf("expected valid: %q", v)
		}
	}
	invalids := []string{"", ":lead", "trail:", "bad space", "UPPER", "semicolon;hack"}
	for _, v := range invalids {
		if ValidName(v) {
			t.Fatalf("expected invalid: %q", v)
		}
	}
}

func TestNewRegistry_RejectsUnknownInclude(t *testing.T) {
	_, err := NewRegistry([]Definition{
		{Name: "a", Includes: []string{"ghost"}},
	})
	if err == nil {
		t.Fatal("expected error for unknown include")
	}
}

func TestExpand_Transitive(t *testing.T) {
	r := testRegistry(t)
	got := r.Expand([]string{"claim:approve"})
	want := []string{"claim:approve", "claim:read", "claim:write"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expand mismatch: got %v want %v", got, want)
	}
}

func TestExpand_Idempotent(t *testing.T) {
	r := testRegistry(t)
	for _, set := range [][]string{
		{"quote:write"},
		{"admin:full"},
		{"claim:approve", "customer:read"},
		{},
	} {
		once := r.Expand(set)
		twice := r.Expand(once)
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("expand not idempotent for %v: %v != %v", set, once, twice)
		}
	}
}

func TestExpand_CycleSafe(t *testing.T) {
	// Tabla con ciclo armada a mano: NewRegistry la aceptaría (solo valida
	// existencia), Expand no debe loopear.
	r := &Registry{defs: map[string]Definition{
		"a": {Name: "a", Includes: []string{"b"}},
		"b": {Name: "b", Includes: []string{"a"}},
	}}
	got := r.Expand([]string{"a"})
	want := []string{"a", "b"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("cycle expand: got %v want %v", got, want)
	}
}

func TestValidate(t *testing.T) {
	r := testRegistry(t)

	t.Run("empty request rejected", func(t *testing.T) {
		if _, err := r.Validate(nil, nil); !errors.Is(err, ErrInvalidScope) {
			t.Fatalf("want ErrInvalidScope, got %v", err)
		}
	})

	t.Run("unknown scope rejected", func(t *testing.T) {
		if _, err := r.Validate([]string{"nope:read"}, nil); !errors.Is(err, ErrInvalidScope) {
			t.Fatalf("want ErrInvalidScope, got %v", err)
		}
	})

	t.Run("outside allowed rejected", func(t *testing.T) {
		_, err := r.Validate([]string{"policy:write"}, []string{"quote:write"})
		if !errors.Is(err, ErrInvalidScope) {
			t.Fatalf("want ErrInvalidScope, got %v", err)
		}
	})

	t.Run("included scope is allowed", func(t *testing.T) {
		// quote:read está en el cierre de quote:write
		got, err := r.Validate([]string{"quote:read"}, []string{"quote:write"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !reflect.DeepEqual(got, []string{"quote:read"}) {
			t.Fatalf("unexpected expansion: %v", got)
		}
	})

	t.Run("request expands", func(t *testing.T) {
		got, err := r.Validate([]string{"quote:write"}, []string{"quote:write", "quote:read"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := []string{"quote:read", "quote:write"}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("got %v want %v", got, want)
		}
	})
}

func TestHasPermission(t *testing.T) {
	r := testRegistry(t)
	if !r.HasPermission([]string{"quote:write"}, "quote:read") {
		t.Fatal("quote:write should imply quote:read")
	}
	if r.HasPermission([]string{"quote:read"}, "quote:write") {
		t.Fatal("quote:read must not imply quote:write")
	}
	if !r.HasPermission([]string{"admin:full"}, "claim:read") {
		t.Fatal("admin:full should imply claim:read transitively")
	}
}

func TestSubset(t *testing.T) {
	r := testRegistry(t)
	if !r.Subset([]string{"quote:read"}, []string{"quote:write"}) {
		t.Fatal("quote:read is inside quote:write closure")
	}
	if r.Subset([]string{"policy:write"}, []string{"quote:write"}) {
		t.Fatal("policy:write is not inside quote:write closure")
	}
}

func TestRequiresUser(t *testing.T) {
	r := testRegistry(t)
	if r.RequiresUser([]string{"quote:write"}) {
		t.Fatal("quote:write does not require a user")
	}
	if !r.RequiresUser([]string{"admin:full"}) {
		t.Fatal("admin:full requires a user")
	}
}
